package mask

import (
	"context"
	"image"
)

// FixedRemover 不做采样，总是按深色背景处理。
// 命中的像素只把 alpha 置 0，保留原 RGB。
type FixedRemover struct {
	Threshold uint8
}

func NewFixedRemover(threshold uint8) *FixedRemover {
	return &FixedRemover{Threshold: threshold}
}

func (f *FixedRemover) Remove(ctx context.Context, img *image.NRGBA) (Outcome, error) {
	if err := checkInput(ctx, img); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Classification: Dark, Applied: true}
	eachPixel(img, func(px []uint8) {
		if isDark(px, f.Threshold) {
			px[3] = 0
			out.Masked++
		}
	})
	return out, nil
}
