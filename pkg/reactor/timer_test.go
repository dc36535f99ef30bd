// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package reactor

import (
	"testing"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

func TestTimerIdWrap(t *testing.T) {
	old := maxTimerId
	maxTimerId = 3
	defer func() {
		maxTimerId = old
	}()

	timer := NewTimerService(NewRegistry())
	msg := base.Message{MsgId: base.MsgCatalogTimeout}
	assert.Equal(t, 1, timer.AddTimer(base.ServiceGbServer, 1, 10, msg, false))
	assert.Equal(t, 2, timer.AddTimer(base.ServiceGbServer, 1, 10, msg, false))
	assert.Equal(t, 3, timer.AddTimer(base.ServiceGbServer, 1, 10, msg, false))

	timer.DelTimer(2)
	// 回绕后跳过仍然存活的1
	assert.Equal(t, 2, timer.AddTimer(base.ServiceGbServer, 1, 10, msg, false))

	timer.DelTimer(1)
	assert.Equal(t, 1, timer.AddTimer(base.ServiceGbServer, 1, 10, msg, false))
	assert.Equal(t, 3, timer.Len())
}

func TestTimerInterClamp(t *testing.T) {
	registry := NewRegistry()
	timer := NewTimerService(registry)
	id := timer.AddTimer(base.ServiceGbServer, 1, 0, base.Message{MsgId: base.MsgInitCatalog}, false)
	assert.Equal(t, true, timer.Exist(id))
	timer.Sweep()
	assert.Equal(t, false, timer.Exist(id))
}
