// Package utils 提供 ID 生成与重试工具
package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 基于雪花算法的业务 ID 生成器
type IDGenerator struct {
	node   *snowflake.Node
	prefix string
}

// NewIDGenerator 创建 ID 生成器，nodeID 取值 0-1023
func NewIDGenerator(nodeID int64, prefix string) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node, prefix: prefix}, nil
}

// Next 生成下一个 ID，形如 PROP-1734567890123456789
func (g *IDGenerator) Next() string {
	return g.prefix + g.node.Generate().String()
}

// Retry 最多执行 maxAttempts 次 fn，每次失败后等待 delay；ctx 取消时提前返回
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}
