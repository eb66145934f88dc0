package mask

import (
	"image"
	"image/color"
)

const (
	// 采样像素判定阈值
	darkSampleMax  = 50
	lightSampleMin = 200

	// DefaultDarkThreshold 深色背景像素阈值，r、g、b 都小于它才算背景
	DefaultDarkThreshold = 60
	// LightThreshold 浅色背景像素阈值，r、g、b 都大于它才算背景
	LightThreshold = 200
)

// Classification 背景色调
type Classification int

const (
	Indeterminate Classification = iota
	Dark
	Light
)

func (c Classification) String() string {
	switch c {
	case Dark:
		return "dark"
	case Light:
		return "light"
	default:
		return "indeterminate"
	}
}

// Classify 根据单个采样像素判断背景是深色、浅色还是无法确定
func Classify(c color.NRGBA) Classification {
	switch {
	case c.R < darkSampleMax && c.G < darkSampleMax && c.B < darkSampleMax:
		return Dark
	case c.R > lightSampleMin && c.G > lightSampleMin && c.B > lightSampleMin:
		return Light
	default:
		return Indeterminate
	}
}

// Sample 取左上角像素，空图返回 false
func Sample(img *image.NRGBA) (color.NRGBA, bool) {
	if img == nil || img.Bounds().Empty() {
		return color.NRGBA{}, false
	}
	b := img.Bounds()
	return img.NRGBAAt(b.Min.X, b.Min.Y), true
}

func isDark(pix []uint8, threshold uint8) bool {
	return pix[0] < threshold && pix[1] < threshold && pix[2] < threshold
}

func isLight(pix []uint8) bool {
	return pix[0] > LightThreshold && pix[1] > LightThreshold && pix[2] > LightThreshold
}
