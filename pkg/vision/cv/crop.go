package cv

import (
	"image"

	"gocv.io/x/gocv"
)

// CropRegion 按匹配位置从参考图中裁剪出独立的区域
// 区域必须完全落在参考图内，否则返回 *OutOfBoundsError
func CropRegion(reference gocv.Mat, loc MatchLocation) (gocv.Mat, error) {
	return CropRect(reference, loc.X, loc.Y, loc.Width, loc.Height)
}

// CropRect 裁剪 (x, y, w, h) 矩形区域
func CropRect(reference gocv.Mat, x, y, w, h int) (gocv.Mat, error) {
	if reference.Empty() {
		return gocv.Mat{}, ErrEmptyImage
	}

	cols, rows := GetResolution(reference)
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > cols || y+h > rows {
		return gocv.Mat{}, &OutOfBoundsError{
			Rect:      [4]int{x, y, w, h},
			ImageSize: [2]int{cols, rows},
		}
	}

	roi := reference.Region(image.Rect(x, y, x+w, y+h))
	defer roi.Close()
	return roi.Clone(), nil
}
