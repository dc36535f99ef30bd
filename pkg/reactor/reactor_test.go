// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package reactor_test

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/lalgb/pkg/reactor"
	"github.com/q191201771/naza/pkg/assert"
)

type collector struct {
	mutex sync.Mutex
	msgs  []base.Message
	ch    chan base.Message
}

func newCollector() *collector {
	return &collector{ch: make(chan base.Message, 1024)}
}

func (c *collector) HandleMsg(msg base.Message) {
	c.mutex.Lock()
	c.msgs = append(c.msgs, msg)
	c.mutex.Unlock()
	c.ch <- msg
}

func (c *collector) take() []base.Message {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ret := c.msgs
	c.msgs = nil
	return ret
}

type eventCollector struct {
	ch chan reactor.EventReady
	on func(ev *reactor.Event, ready reactor.EventReady)
}

func (e *eventCollector) HandleEvent(ev *reactor.Event, ready reactor.EventReady) {
	if e.on != nil {
		e.on(ev, ready)
	}
	e.ch <- ready
}

func TestRegistry(t *testing.T) {
	registry := reactor.NewRegistry()

	err := registry.PostMsg(base.Message{MsgId: base.MsgInitCatalog, DstType: base.ServiceGbServer, DstId: 1})
	assert.Equal(t, true, errors.Is(err, base.ErrServiceTypeNotFound))

	c := newCollector()
	r := reactor.NewReactor(base.ServiceGbServer, 1, c, registry, nil)
	assert.Equal(t, nil, r.Start())
	assert.Equal(t, true, errors.Is(r.Start(), base.ErrServiceDuplicate))
	assert.Equal(t, 1, registry.Len())

	err = registry.PostMsg(base.Message{MsgId: base.MsgInitCatalog, DstType: base.ServiceGbServer, DstId: 2})
	assert.Equal(t, true, errors.Is(err, base.ErrInstanceNotFound))
	assert.Equal(t, false, errors.Is(err, base.ErrServiceTypeNotFound))
	// 失败的投递不会入队
	assert.Equal(t, 0, r.Poll())

	m, ok := registry.GetReactor(base.ServiceGbServer, 1)
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, m.InstanceId())

	assert.Equal(t, nil, registry.PostMsg(base.Message{MsgId: base.MsgInitCatalog, DstType: base.ServiceGbServer, DstId: 1}))
	assert.Equal(t, 1, r.Poll())
	assert.Equal(t, 1, len(c.take()))

	r.Exit()
	_, ok = registry.GetReactor(base.ServiceGbServer, 1)
	assert.Equal(t, false, ok)
	err = registry.PostMsg(base.Message{MsgId: base.MsgInitCatalog, DstType: base.ServiceGbServer, DstId: 1})
	assert.Equal(t, true, errors.Is(err, base.ErrServiceTypeNotFound))

	succ, fail := registry.PostCount()
	assert.Equal(t, uint64(1), succ)
	assert.Equal(t, uint64(3), fail)
}

func TestReactorPostMsgFifo(t *testing.T) {
	registry := reactor.NewRegistry()
	dst := newCollector()
	dstReactor := reactor.NewReactor(base.ServiceGbServer, 1, dst, registry, nil)
	assert.Equal(t, nil, dstReactor.Start())

	srcNum := 4
	msgNum := 500
	var wg sync.WaitGroup
	for i := 0; i < srcNum; i++ {
		src := reactor.NewReactor(base.ServiceHttpServer, i+1, newCollector(), registry, nil)
		assert.Equal(t, nil, src.Start())
		wg.Add(1)
		go func(src *reactor.Reactor) {
			defer wg.Done()
			for j := 0; j < msgNum; j++ {
				err := src.PostMsg(base.Message{MsgId: base.MsgGetRegistDomain, DstType: base.ServiceGbServer, DstId: 1, IntVal: j})
				assert.Equal(t, nil, err)
			}
		}(src)
	}
	wg.Wait()

	assert.Equal(t, srcNum*msgNum, dstReactor.Poll())
	msgs := dst.take()
	assert.Equal(t, srcNum*msgNum, len(msgs))

	// 同一个源投递的消息按投递顺序到达，并且源被标记为投递方自己
	next := make(map[int]int)
	for _, msg := range msgs {
		assert.Equal(t, base.ServiceHttpServer, msg.SrcType)
		assert.Equal(t, next[msg.SrcId], msg.IntVal)
		next[msg.SrcId]++
	}
}

func TestTimerRepeat(t *testing.T) {
	registry := reactor.NewRegistry()
	timer := reactor.NewTimerService(registry)
	c := newCollector()
	r := reactor.NewReactor(base.ServiceGbServer, 1, c, registry, timer)
	assert.Equal(t, nil, r.Start())

	id := r.AddTimer(3, base.Message{MsgId: base.MsgProbeTimeout}, true)
	assert.Equal(t, true, id > 0)

	var firedAt []int
	for tick := 1; tick <= 9; tick++ {
		timer.Sweep()
		r.Poll()
		for _, msg := range c.take() {
			assert.Equal(t, base.MsgProbeTimeout, msg.MsgId)
			assert.Equal(t, base.ServiceGbServer, msg.DstType)
			firedAt = append(firedAt, tick)
		}
	}
	assert.Equal(t, []int{3, 6, 9}, firedAt)
	assert.Equal(t, true, timer.Exist(id))

	r.DelTimer(id)
	for i := 0; i < 6; i++ {
		timer.Sweep()
	}
	assert.Equal(t, 0, r.Poll())
	assert.Equal(t, 0, timer.Len())
}

func TestTimerOneShotAndReset(t *testing.T) {
	registry := reactor.NewRegistry()
	timer := reactor.NewTimerService(registry)
	c := newCollector()
	r := reactor.NewReactor(base.ServiceGbServer, 1, c, registry, timer)
	assert.Equal(t, nil, r.Start())

	oneShot := r.AddTimer(2, base.Message{MsgId: base.MsgInviteTimeout, StrVal: "call1"}, false)
	reset := r.AddTimer(3, base.Message{MsgId: base.MsgCatalogTimeout, IntVal: 7}, false)

	timer.Sweep()
	timer.Sweep()
	r.Poll()
	msgs := c.take()
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, "call1", msgs[0].StrVal)
	assert.Equal(t, false, timer.Exist(oneShot))

	// 第三个tick之前重置，需要重新走满3个tick
	r.ResetTimer(reset)
	timer.Sweep()
	timer.Sweep()
	r.Poll()
	assert.Equal(t, 0, len(c.take()))
	timer.Sweep()
	r.Poll()
	msgs = c.take()
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, 7, msgs[0].IntVal)

	for i := 0; i < 10; i++ {
		timer.Sweep()
	}
	assert.Equal(t, 0, r.Poll())
	assert.Equal(t, 0, timer.Len())
}

func TestTimerOwnerGone(t *testing.T) {
	registry := reactor.NewRegistry()
	timer := reactor.NewTimerService(registry)
	c := newCollector()
	r := reactor.NewReactor(base.ServiceGbServer, 1, c, registry, timer)
	assert.Equal(t, nil, r.Start())

	r.AddTimer(1, base.Message{MsgId: base.MsgRegTimeout}, true)
	r.AddTimer(1, base.Message{MsgId: base.MsgRegTimeout}, false)
	r.Exit()
	assert.Equal(t, 1, r.Poll())

	timer.Sweep()
	assert.Equal(t, 0, timer.Len())
	assert.Equal(t, 0, len(c.take()))
}

func TestTimerRunLoop(t *testing.T) {
	registry := reactor.NewRegistry()
	timer := reactor.NewTimerService(registry, func(option *reactor.TimerOption) {
		option.TickMs = 10
	})
	c := newCollector()
	r := reactor.NewReactor(base.ServiceGbServer, 1, c, registry, timer)
	assert.Equal(t, nil, r.Start())
	go r.Wait()
	go func() {
		_ = timer.RunLoop()
	}()

	r.AddTimer(2, base.Message{MsgId: base.MsgInitCatalog, StrVal: "34020000002000000001"}, false)
	select {
	case msg := <-c.ch:
		assert.Equal(t, base.MsgInitCatalog, msg.MsgId)
	case <-time.After(2 * time.Second):
		t.Fatal("timer not fired")
	}

	timer.Dispose()
	r.Exit()
	<-r.Done()
}

func TestPacketEvent(t *testing.T) {
	registry := reactor.NewRegistry()
	r := reactor.NewReactor(base.ServiceGbServer, 1, newCollector(), registry, nil)
	assert.Equal(t, nil, r.Start())

	conn, err := reactor.ListenUdp("127.0.0.1:0")
	assert.Equal(t, nil, err)
	ec := &eventCollector{ch: make(chan reactor.EventReady, 16)}
	ec.on = func(ev *reactor.Event, ready reactor.EventReady) {
		if ready.Mask&reactor.EventRead != 0 {
			_ = ev.WriteTo([]byte("pong"), ready.Addr)
		}
	}
	ev, err := reactor.NewPacketEvent(conn, ec)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, r.AddEvent(ev))
	assert.Equal(t, true, errors.Is(r.AddEvent(ev), base.ErrEventDuplicate))
	assert.Equal(t, 1, r.EventNum())
	go r.Wait()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	assert.Equal(t, nil, err)
	defer client.Close()
	_, err = client.Write([]byte("ping"))
	assert.Equal(t, nil, err)

	select {
	case ready := <-ec.ch:
		assert.Equal(t, reactor.EventRead, ready.Mask)
		assert.Equal(t, "ping", string(ready.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("packet not received")
	}

	buf := make([]byte, 16)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	assert.Equal(t, nil, err)
	assert.Equal(t, "pong", string(buf[:n]))

	r.Exit()
	<-r.Done()
	assert.Equal(t, 0, r.EventNum())
}

func TestStreamEvent(t *testing.T) {
	registry := reactor.NewRegistry()
	r := reactor.NewReactor(base.ServiceGbServer, 1, newCollector(), registry, nil)
	assert.Equal(t, nil, r.Start())

	ln, err := reactor.ListenTcp("127.0.0.1:0")
	assert.Equal(t, nil, err)

	streamCollector := &eventCollector{ch: make(chan reactor.EventReady, 16)}
	acceptCollector := &eventCollector{ch: make(chan reactor.EventReady, 16)}
	acceptCollector.on = func(ev *reactor.Event, ready reactor.EventReady) {
		if ready.Conn == nil {
			return
		}
		sev, err := reactor.NewStreamEvent(ready.Conn, streamCollector)
		assert.Equal(t, nil, err)
		assert.Equal(t, nil, ev.Reactor().AddEvent(sev))
	}
	lev, err := reactor.NewListenerEvent(ln, acceptCollector)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, r.AddEvent(lev))
	go r.Wait()

	client, err := net.Dial("tcp", ln.Addr().String())
	assert.Equal(t, nil, err)
	_, err = client.Write([]byte("REGISTER"))
	assert.Equal(t, nil, err)

	var got []byte
	for len(got) < len("REGISTER") {
		select {
		case ready := <-streamCollector.ch:
			assert.Equal(t, reactor.EventRead, ready.Mask)
			got = append(got, ready.Data...)
		case <-time.After(2 * time.Second):
			t.Fatal("stream data not received")
		}
	}
	assert.Equal(t, "REGISTER", string(got))

	_ = client.Close()
	select {
	case ready := <-streamCollector.ch:
		assert.Equal(t, reactor.EventClose, ready.Mask)
	case <-time.After(2 * time.Second):
		t.Fatal("stream close not received")
	}

	r.Exit()
	<-r.Done()
}

func TestModEvent(t *testing.T) {
	registry := reactor.NewRegistry()
	r := reactor.NewReactor(base.ServiceGbServer, 1, newCollector(), registry, nil)
	assert.Equal(t, nil, r.Start())

	conn, err := reactor.ListenUdp("127.0.0.1:0")
	assert.Equal(t, nil, err)
	ec := &eventCollector{ch: make(chan reactor.EventReady, 16)}
	ev, err := reactor.NewPacketEvent(conn, ec)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, r.AddEventWithMask(ev, reactor.EventClose))

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	assert.Equal(t, nil, err)
	defer client.Close()
	_, _ = client.Write([]byte("a"))
	_, _ = client.Write([]byte("b"))

	// 读关闭期间不回调
	deadline := time.Now().Add(2 * time.Second)
	for r.Stat().ReadyCount < 2 && time.Now().Before(deadline) {
		r.Poll()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, len(ec.ch))

	assert.Equal(t, nil, r.ModEvent(ev, reactor.EventDefault|reactor.EventWrite))
	r.Poll()
	var datas []string
	var writable int
	for len(ec.ch) > 0 {
		ready := <-ec.ch
		if ready.Mask == reactor.EventWrite {
			writable++
			continue
		}
		datas = append(datas, string(ready.Data))
	}
	assert.Equal(t, []string{"a", "b"}, datas)
	assert.Equal(t, 1, writable)

	assert.Equal(t, nil, r.DelEvent(ev))
	assert.Equal(t, true, errors.Is(r.DelEvent(ev), base.ErrEventNotFound))
	assert.Equal(t, true, errors.Is(r.ModEvent(ev, reactor.EventDefault), base.ErrEventNotFound))
	assert.Equal(t, true, errors.Is(r.AddEvent(nil), base.ErrEventInvalid))

	r.Exit()
	r.Poll()
	assert.Equal(t, true, errors.Is(r.AddEvent(ev), base.ErrReactorExited))
}
