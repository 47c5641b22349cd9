package cv

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	// ErrDecode 图像字节无法解码
	ErrDecode = errors.New("图像解码失败")
	// ErrNoValidScale 所有缩放候选都大于参考图像
	ErrNoValidScale = errors.New("没有可用的缩放比例")
	// ErrLengthMismatch 指纹长度不一致
	ErrLengthMismatch = errors.New("指纹长度不一致")
	// ErrOutOfBounds 裁剪区域超出参考图像
	ErrOutOfBounds = errors.New("裁剪区域越界")
	// ErrEmptyImage 图像为空
	ErrEmptyImage = errors.New("图像为空")
)

// MatchLocation 模板匹配得到的最佳位置
type MatchLocation struct {
	// X, Y 参考图像中的左上角偏移
	X int `json:"x"`
	Y int `json:"y"`
	// Width, Height 缩放后查询图像的尺寸
	Width  int `json:"width"`
	Height int `json:"height"`
	// Scale 产生该位置的缩放比例
	Scale float64 `json:"scale"`
	// Correlation 原始相关系数 [-1, 1]
	Correlation float64 `json:"correlation"`
	// Score 映射后的分数 [0, 100]
	Score float64 `json:"score"`
}

// DecodeError 图像解码错误
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d 字节): %v", ErrDecode.Error(), e.Size, e.Err)
	}
	return fmt.Sprintf("%s (%d 字节)", ErrDecode.Error(), e.Size)
}

// Is 使 errors.Is(err, ErrDecode) 成立
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// OutOfBoundsError 裁剪越界错误
type OutOfBoundsError struct {
	Rect      [4]int // x, y, w, h
	ImageSize [2]int // w, h
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: 区域 (%d,%d %dx%d) 图像 %dx%d", ErrOutOfBounds.Error(),
		e.Rect[0], e.Rect[1], e.Rect[2], e.Rect[3], e.ImageSize[0], e.ImageSize[1])
}

// Is 使 errors.Is(err, ErrOutOfBounds) 成立
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}
