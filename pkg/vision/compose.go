package vision

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// 对比图布局
const (
	composePadding    = 12
	composeCaptionH   = 32
	composeFontSize   = 16
	composeMinHeight  = 64
	composeMaxHeight  = 480
	composePlaceholdW = 120
)

var (
	captionFontOnce sync.Once
	captionFont     *truetype.Font
	captionFontErr  error
)

func loadCaptionFont() (*truetype.Font, error) {
	captionFontOnce.Do(func() {
		captionFont, captionFontErr = freetype.ParseFont(goregular.TTF)
	})
	return captionFont, captionFontErr
}

// Caption 对比图标题，例如 "91% AUTHENTIC MATCH (template)"
func Caption(result *MatchResult) string {
	if result == nil {
		return ""
	}
	return fmt.Sprintf("%d%% %s (%s)", result.OverallScore, result.Verdict, result.Method)
}

// SideBySide 生成左右对比图：左侧为参考图中定位到的区域，右侧为查询图
// region 为 nil 时左侧显示灰色占位
func SideBySide(region, query image.Image, result *MatchResult) (*image.RGBA, error) {
	if query == nil || query.Bounds().Empty() {
		return nil, fmt.Errorf("查询图为空")
	}

	height := query.Bounds().Dy()
	if region != nil && region.Bounds().Dy() > height {
		height = region.Bounds().Dy()
	}
	height = max(composeMinHeight, min(composeMaxHeight, height))

	left := scaleToHeight(region, height)
	right := scaleToHeight(query, height)

	width := left.Bounds().Dx() + right.Bounds().Dx() + 3*composePadding
	canvas := image.NewRGBA(image.Rect(0, 0, width, height+2*composePadding+composeCaptionH))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	leftAt := image.Pt(composePadding, composePadding)
	draw.Draw(canvas, left.Bounds().Add(leftAt), left, image.Point{}, draw.Over)

	rightAt := image.Pt(2*composePadding+left.Bounds().Dx(), composePadding)
	draw.Draw(canvas, right.Bounds().Add(rightAt), right, image.Point{}, draw.Over)

	if err := drawCaption(canvas, Caption(result), verdictColor(result), height+composePadding); err != nil {
		return nil, err
	}
	return canvas, nil
}

// scaleToHeight 等比缩放到指定高度
func scaleToHeight(img image.Image, height int) image.Image {
	if img == nil || img.Bounds().Empty() {
		placeholder := image.NewRGBA(image.Rect(0, 0, composePlaceholdW, height))
		draw.Draw(placeholder, placeholder.Bounds(), image.NewUniform(color.Gray{Y: 200}), image.Point{}, draw.Src)
		return placeholder
	}

	b := img.Bounds()
	width := max(1, b.Dx()*height/b.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// drawCaption 在 top 下方绘制一行标题
func drawCaption(dst *image.RGBA, text string, c color.Color, top int) error {
	if text == "" {
		return nil
	}
	f, err := loadCaptionFont()
	if err != nil {
		return fmt.Errorf("加载字体失败: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(f)
	ctx.SetFontSize(composeFontSize)
	ctx.SetClip(dst.Bounds())
	ctx.SetDst(dst)
	ctx.SetSrc(image.NewUniform(c))
	ctx.SetHinting(font.HintingFull)

	pt := freetype.Pt(composePadding, top+composePadding+int(ctx.PointToFixed(composeFontSize)>>6))
	if _, err := ctx.DrawString(text, pt); err != nil {
		return fmt.Errorf("绘制标题失败: %w", err)
	}
	return nil
}

// verdictColor 结论对应的标题颜色
func verdictColor(result *MatchResult) color.Color {
	if result == nil {
		return color.Black
	}
	switch result.Verdict {
	case VerdictAuthentic:
		return color.RGBA{R: 0x1b, G: 0x8a, B: 0x3c, A: 0xff}
	case VerdictReview:
		return color.RGBA{R: 0xc7, G: 0x7c, B: 0x02, A: 0xff}
	default:
		return color.RGBA{R: 0xc6, G: 0x28, B: 0x28, A: 0xff}
	}
}
