// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package reactor

import (
	"context"
	"fmt"
	"net"

	"github.com/q191201771/lalgb/pkg/base"
)

// ListenUdp 监听udp，socket 设置了地址复用，便于进程重启后立即重新绑定同一端口
func ListenUdp(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w. network=udp, addr=%s, err=%v", base.ErrListen, addr, err)
	}
	return pc.(*net.UDPConn), nil
}

// ListenTcp 同 ListenUdp
func ListenTcp(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w. network=tcp, addr=%s, err=%v", base.ErrListen, addr, err)
	}
	return ln, nil
}
