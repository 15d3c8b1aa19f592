package models

import (
	"errors"
)

// 核心错误分类
// - ErrValidation: 输入非法，同步拒绝，不重试
// - ErrNotFound: 目标记录不存在或不属于调用者（归属校验先于存在性暴露）
// - ErrUnauthorized: 缺失/非法身份，由上游边界处理
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)
