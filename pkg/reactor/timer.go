// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package reactor

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/q191201771/lalgb/pkg/base"
)

type TimerOption struct {
	// TickMs 一个tick的时长，所有定时器的精度都是tick
	TickMs int
}

var defaultTimerOption = TimerOption{
	TickMs: 1000,
}

type ModTimerOption func(option *TimerOption)

type timerEntry struct {
	id        int
	ownerType base.ServiceType
	ownerId   int
	inter     int
	cur       int
	repeat    bool
	msg       base.Message
}

type firedTimer struct {
	id     int
	repeat bool
	msg    base.Message
}

// TimerService 全局定时器，一个goroutine按tick扫描所有定时器
//
// 定时器到期后不在本goroutine中处理，而是把保存的消息投递回所属 reactor 的队列
//
type TimerService struct {
	uniqueKey string
	option    TimerOption
	registry  *Registry

	mutex   sync.Mutex
	entries map[int]*timerEntry
	lastId  int

	exitChan    chan struct{}
	disposeOnce sync.Once
}

func NewTimerService(registry *Registry, modOption ...ModTimerOption) *TimerService {
	option := defaultTimerOption
	for _, fn := range modOption {
		fn(&option)
	}
	if option.TickMs <= 0 {
		option.TickMs = defaultTimerOption.TickMs
	}
	uk := base.GenUkTimerService()
	Log.Infof("[%s] lifecycle new timer service. tick=%dms", uk, option.TickMs)
	return &TimerService{
		uniqueKey: uk,
		option:    option,
		registry:  registry,
		entries:   make(map[int]*timerEntry),
		exitChan:  make(chan struct{}),
	}
}

// RunLoop 阻塞直到 Dispose
func (t *TimerService) RunLoop() error {
	ticker := time.NewTicker(time.Duration(t.option.TickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.exitChan:
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *TimerService) Dispose() {
	t.disposeOnce.Do(func() {
		close(t.exitChan)
	})
}

// AddTimer
//
// @param interTick 间隔多少个tick触发，小于1时按1处理
//
// @param repeat 为true时触发后重新计数，直到 DelTimer
//
// @return 定时器id，不会和仍然存活的定时器重复
//
func (t *TimerService) AddTimer(ownerType base.ServiceType, ownerId int, interTick int, msg base.Message, repeat bool) int {
	if interTick < 1 {
		interTick = 1
	}
	msg.DstType = ownerType
	msg.DstId = ownerId

	t.mutex.Lock()
	defer t.mutex.Unlock()
	id := t.genId()
	t.entries[id] = &timerEntry{
		id:        id,
		ownerType: ownerType,
		ownerId:   ownerId,
		inter:     interTick,
		repeat:    repeat,
		msg:       msg,
	}
	return id
}

func (t *TimerService) DelTimer(id int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.entries, id)
}

// ResetTimer 计数清零，重新开始计算间隔，不会立即触发
func (t *TimerService) ResetTimer(id int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if e, ok := t.entries[id]; ok {
		e.cur = 0
	}
}

func (t *TimerService) Exist(id int) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	_, ok := t.entries[id]
	return ok
}

func (t *TimerService) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.entries)
}

// Sweep 走一个tick
//
// 到期的消息在释放锁之后再投递，同一tick内按定时器id从小到大投递
//
func (t *TimerService) Sweep() {
	var fired []firedTimer

	t.mutex.Lock()
	for id, e := range t.entries {
		e.cur++
		if e.cur < e.inter {
			continue
		}
		fired = append(fired, firedTimer{id: id, repeat: e.repeat, msg: e.msg})
		if e.repeat {
			e.cur = 0
		} else {
			delete(t.entries, id)
		}
	}
	t.mutex.Unlock()

	sort.Slice(fired, func(i, j int) bool {
		return fired[i].id < fired[j].id
	})
	for _, f := range fired {
		err := t.registry.PostMsg(f.msg)
		if err == nil {
			continue
		}
		Log.Warnf("[%s] timer fire but owner gone. id=%d, %s, err=%+v", t.uniqueKey, f.id, f.msg, err)
		if f.repeat && (errors.Is(err, base.ErrInstanceNotFound) || errors.Is(err, base.ErrServiceTypeNotFound)) {
			t.DelTimer(f.id)
		}
	}
}

func (t *TimerService) genId() int {
	for {
		t.lastId++
		if t.lastId <= 0 || t.lastId > maxTimerId {
			t.lastId = 1
		}
		if _, ok := t.entries[t.lastId]; !ok {
			return t.lastId
		}
	}
}
