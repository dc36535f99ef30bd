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

	"github.com/eapache/queue"
	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/naza/pkg/nazaatomic"
)

// IMsgHandler 业务方实现，在 reactor 的 goroutine 中回调
type IMsgHandler interface {
	HandleMsg(msg base.Message)
}

type readyItem struct {
	ev    *Event
	ready EventReady
}

type ReactorStat struct {
	MsgCount   uint64
	ReadyCount uint64
	EventNum   int
	QueueLen   int
}

// Reactor 一个服务实例的事件循环
type Reactor struct {
	uniqueKey   string
	serviceType base.ServiceType
	instanceId  int
	handler     IMsgHandler
	registry    *Registry
	timer       *TimerService

	queueMutex sync.Mutex
	msgQueue   *queue.Queue // base.Message
	readyQueue *queue.Queue // readyItem
	wakeup     chan struct{}
	exitFlag   nazaatomic.Bool

	eventMutex    sync.Mutex
	events        map[int]*Event
	lastFd        int
	pendingEvents map[*Event]struct{}

	msgCount   nazaatomic.Uint64
	readyCount nazaatomic.Uint64
	doneChan   chan struct{}
}

// NewReactor
//
// @param registry 总线，不能为nil，Regist 由业务方在合适的时机调用
//
// @param timer 可以为nil，为nil时 AddTimer 返回0
//
func NewReactor(t base.ServiceType, id int, handler IMsgHandler, registry *Registry, timer *TimerService) *Reactor {
	uk := base.GenUkReactor()
	r := &Reactor{
		uniqueKey:     uk,
		serviceType:   t,
		instanceId:    id,
		handler:       handler,
		registry:      registry,
		timer:         timer,
		msgQueue:      queue.New(),
		readyQueue:    queue.New(),
		wakeup:        make(chan struct{}, 1),
		events:        make(map[int]*Event),
		pendingEvents: make(map[*Event]struct{}),
		doneChan:      make(chan struct{}),
	}
	Log.Infof("[%s] lifecycle new reactor. type=%s, id=%d", uk, t, id)
	return r
}

// Start 注册到总线
func (r *Reactor) Start() error {
	return r.registry.Regist(r)
}

// ----- implement IMailbox interface ----------------------------------------------------------------------------------

func (r *Reactor) ServiceType() base.ServiceType {
	return r.serviceType
}

func (r *Reactor) InstanceId() int {
	return r.instanceId
}

// EnqueMsg 线程安全，可以在任意 goroutine 中调用
func (r *Reactor) EnqueMsg(msg base.Message) {
	if r.exitFlag.Load() && msg.MsgId != base.MsgExit {
		Log.Debugf("[%s] drop msg since reactor exited. %s", r.uniqueKey, msg)
		return
	}
	r.queueMutex.Lock()
	r.msgQueue.Add(msg)
	r.queueMutex.Unlock()
	r.notify()
}

// ---------------------------------------------------------------------------------------------------------------------

func (r *Reactor) UniqueKey() string {
	return r.uniqueKey
}

// PostMsg 以自己作为源，经由总线投递
func (r *Reactor) PostMsg(msg base.Message) error {
	msg.SrcType = r.serviceType
	msg.SrcId = r.instanceId
	return r.registry.PostMsg(msg)
}

// AddTimer 超时后 msg 会被投递回本 reactor 的消息队列
//
// @return 定时器id，失败时返回0
//
func (r *Reactor) AddTimer(interTick int, msg base.Message, repeat bool) int {
	if r.timer == nil {
		return 0
	}
	msg.SrcType = r.serviceType
	msg.SrcId = r.instanceId
	msg.DstType = r.serviceType
	msg.DstId = r.instanceId
	return r.timer.AddTimer(r.serviceType, r.instanceId, interTick, msg, repeat)
}

func (r *Reactor) DelTimer(id int) {
	if r.timer == nil || id == 0 {
		return
	}
	r.timer.DelTimer(id)
}

func (r *Reactor) ResetTimer(id int) {
	if r.timer == nil || id == 0 {
		return
	}
	r.timer.ResetTimer(id)
}

// AddEvent 绑定socket，之后其就绪通知在本 reactor 的 goroutine 中回调
//
// 失败时只影响该 ev，不影响 reactor 本身
//
func (r *Reactor) AddEvent(ev *Event) error {
	return r.addEvent(ev, EventDefault)
}

func (r *Reactor) AddEventWithMask(ev *Event, mask EventMask) error {
	return r.addEvent(ev, mask)
}

// DelEvent 主动解除绑定并关闭socket，不再回调 Close
func (r *Reactor) DelEvent(ev *Event) error {
	if ev == nil {
		return base.ErrEventInvalid
	}
	r.eventMutex.Lock()
	cur, ok := r.events[ev.fd]
	if !ok || cur != ev {
		r.eventMutex.Unlock()
		return base.ErrEventNotFound
	}
	delete(r.events, ev.fd)
	delete(r.pendingEvents, ev)
	r.eventMutex.Unlock()

	ev.close()
	Log.Debugf("[%s] del event. fd=%d, kind=%s", r.uniqueKey, ev.fd, ev.kind)
	return nil
}

// ModEvent 修改关心的就绪类型
//
// 关闭 EventRead 期间到达的数据会被暂存，重新打开后按顺序回调
// 打开 EventWrite 时回调一次可写
//
func (r *Reactor) ModEvent(ev *Event, mask EventMask) error {
	if ev == nil {
		return base.ErrEventInvalid
	}
	r.eventMutex.Lock()
	cur, ok := r.events[ev.fd]
	if !ok || cur != ev {
		r.eventMutex.Unlock()
		return base.ErrEventNotFound
	}
	old := ev.mask
	ev.mask = mask
	if mask&EventRead != 0 && len(ev.pending) != 0 {
		r.pendingEvents[ev] = struct{}{}
	}
	r.eventMutex.Unlock()

	if old&EventWrite == 0 && mask&EventWrite != 0 {
		r.pushReady(ev, EventReady{Mask: EventWrite})
	} else if len(ev.pending) != 0 {
		r.notify()
	}
	return nil
}

func (r *Reactor) EventNum() int {
	r.eventMutex.Lock()
	defer r.eventMutex.Unlock()
	return len(r.events)
}

// Wait 阻塞运行事件循环，直到 Exit
//
// 每次被唤醒，先处理所有就绪的socket，再按入队顺序处理消息
//
func (r *Reactor) Wait() {
	Log.Infof("[%s] reactor loop start. type=%s, id=%d", r.uniqueKey, r.serviceType, r.instanceId)
	defer close(r.doneChan)
	for range r.wakeup {
		if _, exit := r.poll(); exit {
			break
		}
	}
	Log.Infof("[%s] reactor loop exit. type=%s, id=%d", r.uniqueKey, r.serviceType, r.instanceId)
}

// Poll 非阻塞地处理一轮当前已就绪的socket和消息，返回处理的个数
//
// 不要和 Wait 同时使用，主要用于测试以及由外部驱动循环的场景
//
func (r *Reactor) Poll() int {
	n, _ := r.poll()
	return n
}

// Exit 从总线上注销并让事件循环退出
//
// 指向本 reactor 的定时器不会再被送达，总线投递时返回 instance not found
//
func (r *Reactor) Exit() {
	if r.exitFlag.Load() {
		return
	}
	r.exitFlag.Store(true)
	r.registry.UnRegist(r.serviceType, r.instanceId)
	r.EnqueMsg(base.Message{MsgId: base.MsgExit, DstType: r.serviceType, DstId: r.instanceId})
}

// Done Wait 退出后关闭
func (r *Reactor) Done() <-chan struct{} {
	return r.doneChan
}

func (r *Reactor) Stat() ReactorStat {
	r.queueMutex.Lock()
	ql := r.msgQueue.Length()
	r.queueMutex.Unlock()
	return ReactorStat{
		MsgCount:   r.msgCount.Load(),
		ReadyCount: r.readyCount.Load(),
		EventNum:   r.EventNum(),
		QueueLen:   ql,
	}
}

// ---------------------------------------------------------------------------------------------------------------------

func (r *Reactor) addEvent(ev *Event, mask EventMask) error {
	if ev == nil || ev.handler == nil {
		return base.ErrEventInvalid
	}
	if r.exitFlag.Load() {
		return base.ErrReactorExited
	}

	r.eventMutex.Lock()
	if ev.reactor != nil {
		r.eventMutex.Unlock()
		return base.ErrEventDuplicate
	}
	r.lastFd++
	ev.fd = r.lastFd
	ev.mask = mask
	ev.reactor = r
	r.events[ev.fd] = ev
	r.eventMutex.Unlock()

	Log.Debugf("[%s] add event. fd=%d, kind=%s, laddr=%s", r.uniqueKey, ev.fd, ev.kind, ev.LocalAddr())

	go ev.readLoop(r)
	if mask&EventWrite != 0 {
		r.pushReady(ev, EventReady{Mask: EventWrite})
	}
	return nil
}

func (r *Reactor) pushReady(ev *Event, ready EventReady) {
	r.queueMutex.Lock()
	r.readyQueue.Add(readyItem{ev: ev, ready: ready})
	r.queueMutex.Unlock()
	r.notify()
}

func (r *Reactor) notify() {
	select {
	case r.wakeup <- struct{}{}:
	default:
	}
}

func (r *Reactor) popReady() (readyItem, bool) {
	r.queueMutex.Lock()
	defer r.queueMutex.Unlock()
	if r.readyQueue.Length() == 0 {
		return readyItem{}, false
	}
	return r.readyQueue.Remove().(readyItem), true
}

func (r *Reactor) popMsg() (base.Message, bool) {
	r.queueMutex.Lock()
	defer r.queueMutex.Unlock()
	if r.msgQueue.Length() == 0 {
		return base.Message{}, false
	}
	return r.msgQueue.Remove().(base.Message), true
}

func (r *Reactor) poll() (n int, exit bool) {
	for {
		item, ok := r.popReady()
		if !ok {
			break
		}
		n++
		r.readyCount.Increment()
		r.dispatchReady(item)
	}
	n += r.flushPending()

	for {
		msg, ok := r.popMsg()
		if !ok {
			break
		}
		n++
		if msg.MsgId == base.MsgExit {
			r.cleanup()
			return n, true
		}
		r.msgCount.Increment()
		r.handler.HandleMsg(msg)
	}
	return n, false
}

func (r *Reactor) dispatchReady(item readyItem) {
	ev := item.ev
	r.eventMutex.Lock()
	cur, ok := r.events[ev.fd]
	if !ok || cur != ev {
		// 已经被 DelEvent 或者已经关闭
		r.eventMutex.Unlock()
		return
	}
	if item.ready.Mask&EventClose != 0 {
		delete(r.events, ev.fd)
		delete(r.pendingEvents, ev)
		r.eventMutex.Unlock()

		ev.close()
		if ev.mask&EventClose != 0 {
			ev.handler.HandleEvent(ev, item.ready)
		}
		return
	}
	if item.ready.Mask&EventRead != 0 && ev.mask&EventRead == 0 {
		ev.pending = append(ev.pending, item.ready)
		r.eventMutex.Unlock()
		return
	}
	if item.ready.Mask&EventWrite != 0 && ev.mask&EventWrite == 0 {
		r.eventMutex.Unlock()
		return
	}
	pending := ev.pending
	ev.pending = nil
	delete(r.pendingEvents, ev)
	r.eventMutex.Unlock()

	for _, p := range pending {
		ev.handler.HandleEvent(ev, p)
	}
	ev.handler.HandleEvent(ev, item.ready)
}

func (r *Reactor) flushPending() int {
	r.eventMutex.Lock()
	var evs []*Event
	for ev := range r.pendingEvents {
		if ev.mask&EventRead != 0 {
			evs = append(evs, ev)
		}
	}
	r.eventMutex.Unlock()

	var n int
	for _, ev := range evs {
		r.eventMutex.Lock()
		pending := ev.pending
		ev.pending = nil
		delete(r.pendingEvents, ev)
		r.eventMutex.Unlock()
		for _, p := range pending {
			n++
			ev.handler.HandleEvent(ev, p)
		}
	}
	return n
}

func (r *Reactor) cleanup() {
	r.eventMutex.Lock()
	evs := r.events
	r.events = make(map[int]*Event)
	r.pendingEvents = make(map[*Event]struct{})
	r.eventMutex.Unlock()

	for _, ev := range evs {
		ev.close()
	}
}
