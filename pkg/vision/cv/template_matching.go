package cv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Canny 阈值，与常见印章/文档扫描件的边缘强度匹配
const (
	cannyLowThreshold  = 50
	cannyHighThreshold = 150
)

// matchTemplateMax 计算 TM_CCOEFF_NORMED 结果矩阵并返回最大值及其位置
func matchTemplateMax(source, search gocv.Mat) (float64, image.Point) {
	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(source, search, &result, gocv.TmCcoeffNormed, mask)

	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	return float64(maxVal), maxLoc
}

// correlationToScore 将相关系数映射到 [0, 100]，负相关视为 0
func correlationToScore(corr float64) float64 {
	return clamp(corr, 0, 1) * 100
}

// EdgeImage 轻度模糊后做 Canny 边缘检测，降低填充色和阴影的影响
func EdgeImage(gray gocv.Mat) gocv.Mat {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	gocv.Canny(blurred, &edges, cannyLowThreshold, cannyHighThreshold)
	return edges
}

// checkSourceLargerThanSearch 检查源图像是否不小于搜索图像
func checkSourceLargerThanSearch(source, search gocv.Mat) error {
	if source.Rows() < search.Rows() || source.Cols() < search.Cols() {
		return &ImageSizeError{
			SourceSize: [2]int{source.Cols(), source.Rows()},
			SearchSize: [2]int{search.Cols(), search.Rows()},
		}
	}
	return nil
}

// ImageSizeError 图像尺寸错误
type ImageSizeError struct {
	SourceSize [2]int
	SearchSize [2]int
}

func (e *ImageSizeError) Error() string {
	return fmt.Sprintf("搜索图像尺寸大于源图像: %dx%d > %dx%d",
		e.SearchSize[0], e.SearchSize[1], e.SourceSize[0], e.SourceSize[1])
}
