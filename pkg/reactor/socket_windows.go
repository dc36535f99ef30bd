// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

//go:build windows
// +build windows

package reactor

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
