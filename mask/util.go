package mask

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// ToNRGBA 转为非预乘的 NRGBA，已经是 NRGBA 时直接返回同一个对象。
// 调色板和 NRGBA64 逐像素拷贝，透明像素保留原 RGB；draw.Draw 会经过预乘把它们变成 (0,0,0,0)
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.NRGBA:
		return src
	case *image.Paletted:
		dst := image.NewNRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.SetNRGBA(x, y, color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA))
			}
		}
		return dst
	case *image.NRGBA64:
		dst := image.NewNRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.NRGBA64At(x, y)
				dst.SetNRGBA(x, y, color.NRGBA{
					R: uint8(c.R >> 8),
					G: uint8(c.G >> 8),
					B: uint8(c.B >> 8),
					A: uint8(c.A >> 8),
				})
			}
		}
		return dst
	}
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// HasTransparency 是否存在不是完全不透明的像素
func HasTransparency(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for i := row + 3; i < row+b.Dx()*4; i += 4 {
			if img.Pix[i] != 255 {
				return true
			}
		}
	}
	return false
}

// ResizeWithinMax 缩放（最长边 <= maxSize），maxSize <= 0 表示不缩放
func ResizeWithinMax(img *image.NRGBA, maxSize int) *image.NRGBA {
	if maxSize <= 0 {
		return img
	}

	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return ToNRGBA(resized)
}
