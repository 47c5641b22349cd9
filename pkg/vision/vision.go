// Package vision 提供印章/签名比对功能
//
// 主要功能:
//   - 多尺度模板匹配定位印章区域
//   - 平均哈希比对定位区域与查询图
//   - ORB 特征点比对
//   - 多方法分数融合与分级结论
//
// 基本用法:
//
//	v := vision.NewVerifier(vision.WithMinSimilarity(70))
//	result, err := v.Compare(ctx, pdfPagePNG, stampPhoto)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d%% %s (%s)\n", result.OverallScore, result.Verdict, result.Method)
package vision

import (
	"context"
	"fmt"
	"os"
)

// ============ 便捷函数 ============

// Compare 使用默认参数比对两张图像的原始字节
func Compare(ctx context.Context, reference, query []byte, opts ...Option) (*MatchResult, error) {
	return NewVerifier(opts...).Compare(ctx, reference, query)
}

// CompareFiles 比对两个图像文件
func CompareFiles(ctx context.Context, referencePath, queryPath string, opts ...Option) (*MatchResult, error) {
	reference, err := os.ReadFile(referencePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取参考图: %w", err)
	}
	query, err := os.ReadFile(queryPath)
	if err != nil {
		return nil, fmt.Errorf("无法读取查询图: %w", err)
	}
	return Compare(ctx, reference, query, opts...)
}
