// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package reactor

import (
	"sync"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/naza/pkg/nazaatomic"
)

// IMailbox 总线上可寻址的一个目标，Reactor 实现了该接口
type IMailbox interface {
	ServiceType() base.ServiceType
	InstanceId() int

	// EnqueMsg 必须线程安全，并且保证按调用顺序出队
	EnqueMsg(msg base.Message)
}

// Registry (serviceType, instanceId) -> reactor 的目录，所有跨 reactor 的消息都经过这里
type Registry struct {
	mutex    sync.Mutex
	services map[base.ServiceType]map[int]IMailbox

	postCount     nazaatomic.Uint64
	postFailCount nazaatomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[base.ServiceType]map[int]IMailbox),
	}
}

func (r *Registry) Regist(m IMailbox) error {
	t, id := m.ServiceType(), m.InstanceId()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	ids, ok := r.services[t]
	if !ok {
		ids = make(map[int]IMailbox)
		r.services[t] = ids
	}
	if _, exist := ids[id]; exist {
		return base.ErrServiceDuplicate
	}
	ids[id] = m
	Log.Debugf("regist service. type=%s, id=%d", t, id)
	return nil
}

func (r *Registry) UnRegist(t base.ServiceType, id int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ids, ok := r.services[t]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.services, t)
	}
	Log.Debugf("unregist service. type=%s, id=%d", t, id)
}

// PostMsg 投递到 msg.DstType/msg.DstId
//
// @return 目标类型不存在时返回 base.ErrServiceTypeNotFound，实例不存在时返回 base.ErrInstanceNotFound，
//         这两种情况都没有入队，调用方不应该重试
//
func (r *Registry) PostMsg(msg base.Message) error {
	m, err := r.lookup(msg.DstType, msg.DstId)
	if err != nil {
		r.postFailCount.Increment()
		return err
	}
	r.postCount.Increment()
	m.EnqueMsg(msg)
	return nil
}

func (r *Registry) GetReactor(t base.ServiceType, id int) (IMailbox, bool) {
	m, err := r.lookup(t, id)
	return m, err == nil
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var n int
	for _, ids := range r.services {
		n += len(ids)
	}
	return n
}

func (r *Registry) PostCount() (succ uint64, fail uint64) {
	return r.postCount.Load(), r.postFailCount.Load()
}

func (r *Registry) lookup(t base.ServiceType, id int) (IMailbox, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ids, ok := r.services[t]
	if !ok {
		return nil, base.NewErrServiceTypeNotFound(t)
	}
	m, ok := ids[id]
	if !ok {
		return nil, base.NewErrInstanceNotFound(t, id)
	}
	return m, nil
}
