package document

import (
	"bytes"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"
	"github.com/sunshineplan/imgconv"
)

// Renderer 把文档的某一页转换为图像，页码从 1 开始
type Renderer interface {
	RenderPage(data []byte, page int) (image.Image, error)
}

var disableConfigOnce sync.Once

// PDFRenderer 取 PDF 页面中面积最大的内嵌图像作为该页图像
// 扫描件每页通常就是一张整页图像
//
// 第 1 页没有内嵌图像时退回整页渲染；非 PDF 数据按普通图像解码
type PDFRenderer struct{}

// NewPDFRenderer 创建 PDF 渲染器
func NewPDFRenderer() *PDFRenderer {
	disableConfigOnce.Do(api.DisableConfigDir)
	return &PDFRenderer{}
}

// IsPDF 检查 PDF 文件头
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte(pdfMagic))
}

// PageCount 返回 PDF 页数
func (r *PDFRenderer) PageCount(data []byte) (int, error) {
	ctx, err := r.readContext(data)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

// RenderPage 渲染指定页
func (r *PDFRenderer) RenderPage(data []byte, page int) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, page)
	}

	if !IsPDF(data) {
		if page != 1 {
			return nil, fmt.Errorf("%w: 图像文件只有 1 页，请求第 %d 页", ErrPageOutOfRange, page)
		}
		img, err := imgconv.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
		}
		return img, nil
	}

	ctx, err := r.readContext(data)
	if err != nil {
		return nil, err
	}
	if page > ctx.PageCount {
		return nil, fmt.Errorf("%w: 共 %d 页，请求第 %d 页", ErrPageOutOfRange, ctx.PageCount, page)
	}

	img, err := r.largestImage(ctx, page)
	if err == nil {
		return img, nil
	}
	if page != 1 {
		return nil, err
	}

	// imgconv 只能渲染第 1 页
	img, decErr := imgconv.Decode(bytes.NewReader(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w (渲染失败: %v)", err, decErr)
	}
	return img, nil
}

// readContext 解析并校验 PDF，pdfcpu 遇到损坏文件可能 panic
func (r *PDFRenderer) readContext(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ctx = nil
			err = fmt.Errorf("%w: 解析 PDF 时发生 panic: %v", ErrInvalidContent, rec)
		}
	}()

	ctx, err = api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return ctx, nil
}

// largestImage 解码页面中面积最大的图像，解码失败时尝试次大的
func (r *PDFRenderer) largestImage(ctx *model.Context, page int) (img image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img = nil
			err = fmt.Errorf("%w: 提取第 %d 页图像时发生 panic: %v", ErrNoPageImage, page, rec)
		}
	}()

	images, err := pdfcpu.ExtractPageImages(ctx, page, false)
	if err != nil {
		return nil, errors.Wrapf(ErrNoPageImage, "提取第 %d 页图像失败: %v", page, err)
	}

	candidates := make([]model.Image, 0, len(images))
	for _, im := range images {
		candidates = append(candidates, im)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ai := candidates[i].Width * candidates[i].Height
		aj := candidates[j].Width * candidates[j].Height
		if ai != aj {
			return ai > aj
		}
		return candidates[i].ObjNr < candidates[j].ObjNr
	})

	for _, c := range candidates {
		decoded, decErr := imgconv.Decode(c)
		if decErr == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: 第 %d 页", ErrNoPageImage, page)
}
