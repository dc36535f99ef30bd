// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/unique"

const (
	UkPreReactor       = "REACTOR"
	UkPreTimerService  = "TIMER"
	UkPreGbServer      = "GBSERVER"
	UkPreHttpApiServer = "HTTPAPI"
	UkPreWsSubSession  = "WSSUB"
)

func GenUkReactor() string {
	return siUkReactor.GenUniqueKey()
}

func GenUkTimerService() string {
	return siUkTimerService.GenUniqueKey()
}

func GenUkGbServer() string {
	return siUkGbServer.GenUniqueKey()
}

func GenUkHttpApiServer() string {
	return siUkHttpApiServer.GenUniqueKey()
}

func GenUkWsSubSession() string {
	return siUkWsSubSession.GenUniqueKey()
}

var (
	siUkReactor       *unique.SingleGenerator
	siUkTimerService  *unique.SingleGenerator
	siUkGbServer      *unique.SingleGenerator
	siUkHttpApiServer *unique.SingleGenerator
	siUkWsSubSession  *unique.SingleGenerator
)

func init() {
	siUkReactor = unique.NewSingleGenerator(UkPreReactor)
	siUkTimerService = unique.NewSingleGenerator(UkPreTimerService)
	siUkGbServer = unique.NewSingleGenerator(UkPreGbServer)
	siUkHttpApiServer = unique.NewSingleGenerator(UkPreHttpApiServer)
	siUkWsSubSession = unique.NewSingleGenerator(UkPreWsSubSession)
}
