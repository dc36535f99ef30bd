// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/logic"
	"github.com/q191201771/naza/pkg/bininfo"
)

func main() {
	defer func() {
		_ = os.Stderr.Sync()
	}()

	confFilename := parseFlag()
	logic.Entry(confFilename)
}

func parseFlag() string {
	binInfoFlag := flag.Bool("v", false, "show bin info")
	cf := flag.String("c", "", "specify conf file")
	flag.Parse()

	if *binInfoFlag {
		_, _ = fmt.Fprint(os.Stderr, bininfo.StringifyMultiLine())
		_, _ = fmt.Fprintln(os.Stderr, base.LalGbFullInfo)
		os.Exit(0)
	}

	return *cf
}
