// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "strings"

// LalGbVersion 整个工程的版本号。注意，该变量由外部脚本修改维护，不要手动在代码中修改
//
const LalGbVersion = "v0.1.0"

// ConfVersion gbserver的配置文件的版本号
//
const ConfVersion = "v0.1.0"

var (
	LalGbLibraryName = "lalgb"
	LalGbGithubRepo  = "github.com/q191201771/lalgb"
	LalGbGithubSite  = "https://github.com/q191201771/lalgb"

	// LalGbFullInfo e.g. lalgb v0.1.0 (github.com/q191201771/lalgb)
	LalGbFullInfo = LalGbLibraryName + " " + LalGbVersion + " (" + LalGbGithubRepo + ")"

	// LalGbVersionDot e.g. 0.1.0
	LalGbVersionDot string
)

var (
	// LalGbSipUserAgent SIP 请求和应答中的 User-Agent，e.g. lalgb/0.1.0
	LalGbSipUserAgent string

	// LalGbHttpApiServer HTTP API 应答中的 Server 头，e.g. lalgb0.1.0
	LalGbHttpApiServer string
)

func init() {
	LalGbVersionDot = strings.TrimPrefix(LalGbVersion, "v")

	LalGbSipUserAgent = LalGbLibraryName + "/" + LalGbVersionDot
	LalGbHttpApiServer = LalGbLibraryName + LalGbVersionDot
}
