// Package cv 提供印章比对所需的底层图像算法
//
// 包含以下组件:
//   - 图像规范化 (解码、缩放、灰度化)
//   - 平均哈希 (Average Hash) 指纹
//   - 多尺度模板匹配 (TM_CCOEFF_NORMED)
//   - ORB 特征点匹配
//   - 区域裁剪
//
// 所有返回 gocv.Mat 的函数都返回新的独立 Mat，调用方负责 Close。
//
// 基本用法:
//
//	ref, err := cv.DecodeImage(pdfPage)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ref.Close()
//
//	refGray := cv.ToGray(ref)
//	defer refGray.Close()
//
//	m := cv.NewMultiScaleTemplateMatching(queryGray, refGray, cv.DefaultScales)
//	loc, err := m.LocateBestMatch()
package cv
