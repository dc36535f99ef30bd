// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"github.com/q191201771/lalgb/pkg/base"
)

// Entry 阻塞运行 gbserver，收到退出信号后返回
//
// @param confFile 为空时按 DefaultConfFilenameList 查找
func Entry(confFile string) {
	sm := NewServerManager(func(option *Option) {
		option.ConfFilename = confFile
	})

	go base.RunSignalHandler(func() {
		sm.Dispose()
	})

	err := sm.RunLoop()
	if err != nil {
		Log.Errorf("server manager loop break. err=%+v", err)
		sm.Dispose()
		base.OsExitAndWaitPressIfWindows(1)
	}
	Log.Info("server manager loop exit.")
}
