package mask

import (
	"context"
	"errors"
	"fmt"
	"image"
)

const (
	PolicySampled = "sampled"
	PolicyFixed   = "fixed"
)

var (
	ErrNilImage      = errors.New("nil image provided")
	ErrUnknownPolicy = errors.New("unknown policy")
)

// Remover 就地把背景像素的 alpha 置 0
type Remover interface {
	Remove(ctx context.Context, img *image.NRGBA) (Outcome, error)
}

// Outcome 一次遮罩的结果
type Outcome struct {
	Classification Classification
	// Masked 被置为透明的像素数
	Masked int
	// Applied 为 false 时图像未被修改，也不应该保存
	Applied bool
}

// NewRemover 按策略名创建 Remover，threshold 只对 fixed 生效，<=0 时用默认值
func NewRemover(policy string, threshold int) (Remover, error) {
	switch policy {
	case PolicySampled, "":
		return NewSampledRemover(), nil
	case PolicyFixed:
		if threshold <= 0 {
			threshold = DefaultDarkThreshold
		}
		if threshold > 255 {
			return nil, fmt.Errorf("threshold %d out of range [1,255]", threshold)
		}
		return NewFixedRemover(uint8(threshold)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}

// eachPixel 逐像素回调，px 是该像素在 Pix 中的 4 字节切片
func eachPixel(img *image.NRGBA, fn func(px []uint8)) {
	b := img.Bounds()
	w := b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := 0; x < w; x++ {
			i := row + x*4
			fn(img.Pix[i : i+4 : i+4])
		}
	}
}

func checkInput(ctx context.Context, img *image.NRGBA) error {
	if img == nil {
		return ErrNilImage
	}
	return ctx.Err()
}
