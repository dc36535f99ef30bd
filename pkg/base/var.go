// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

// ----- gb28181 --------------------
var (
	// GbRegExpireGraceTick 注册有效期之外额外容忍的tick数，超过后认为下级域掉线
	GbRegExpireGraceTick = 30

	// GbCatalogTimeoutTick 目录查询会话在没有新分页到达时的超时tick数
	GbCatalogTimeoutTick = 60

	// GbQueryTimeoutTick 录像、预置位查询会话的超时tick数
	GbQueryTimeoutTick = 25

	// GbInviteTimeoutTick INVITE 等待最终应答的超时tick数
	GbInviteTimeoutTick = 25
)
