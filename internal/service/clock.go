package service

import "time"

// Clock 把时间来源抽象出来，重试退避和批次超时在测试里不用等真实时钟
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 可取消的延时任务
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock 返回基于真实时钟的实现
func SystemClock() Clock { return systemClock{} }
