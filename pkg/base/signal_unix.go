// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package base

import (
	"os"
	"os/signal"
	"syscall"
)

// RunSignalHandler 阻塞等待退出相关的信号，收到后回调一次
//
// SIGUSR1 SIGUSR2 保持与lalserver一致，另外加上 SIGINT SIGTERM，gbserver 通常以服务方式运行
//
func RunSignalHandler(cb func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)
	s := <-c
	Log.Infof("recv signal. s=%+v", s)
	cb()
}
