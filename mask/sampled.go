package mask

import (
	"context"
	"image"
)

// SampledRemover 先用左上角像素判断背景色调，再按色调去除背景。
// 深色背景的像素变为 (0,0,0,0)，浅色背景的像素变为 (255,255,255,0)，
// 无法判断时不做任何修改。
type SampledRemover struct {
	DarkThreshold uint8
}

func NewSampledRemover() *SampledRemover {
	return &SampledRemover{DarkThreshold: DefaultDarkThreshold}
}

func (s *SampledRemover) Remove(ctx context.Context, img *image.NRGBA) (Outcome, error) {
	if err := checkInput(ctx, img); err != nil {
		return Outcome{}, err
	}

	bg, ok := Sample(img)
	if !ok {
		return Outcome{Classification: Indeterminate}, nil
	}

	out := Outcome{Classification: Classify(bg)}
	switch out.Classification {
	case Dark:
		eachPixel(img, func(px []uint8) {
			if isDark(px, s.DarkThreshold) {
				px[0], px[1], px[2], px[3] = 0, 0, 0, 0
				out.Masked++
			}
		})
	case Light:
		eachPixel(img, func(px []uint8) {
			if isLight(px) {
				px[0], px[1], px[2], px[3] = 255, 255, 255, 0
				out.Masked++
			}
		})
	default:
		return out, nil
	}

	out.Applied = true
	return out, nil
}
