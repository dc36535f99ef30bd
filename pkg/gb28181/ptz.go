// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"fmt"
	"strconv"
	"time"

	"github.com/q191201771/lalgb/pkg/base"
)

const (
	PtzLeft          = 1
	PtzRight         = 2
	PtzUp            = 3
	PtzDown          = 4
	PtzZoomIn        = 5
	PtzZoomOut       = 6
	PtzPresetGoto    = 7
	PtzPresetSet     = 8
	PtzPresetDel     = 9
	PtzLeftUp        = 11
	PtzRightUp       = 12
	PtzLeftDown      = 13
	PtzRightDown     = 14
	ptzCmdMin        = PtzLeft
	ptzCmdMax        = PtzRightDown
	ptzCmdReserved   = 10
	ptzDefaultSpeed  = 0x80
	ptzStopCmdString = "A50F4D0000000001"
)

// IsValidPtzCmd 1到14，10保留
func IsValidPtzCmd(cmd int) bool {
	return cmd >= ptzCmdMin && cmd <= ptzCmdMax && cmd != ptzCmdReserved
}

func IsPresetPtzCmd(cmd int) bool {
	return cmd == PtzPresetGoto || cmd == PtzPresetSet || cmd == PtzPresetDel
}

// PackPtzCmd 生成 PTZCmd 字段，8字节 A5 0F 4D b4 b5 b6 b7 cs 的大写十六进制
//
// 方向类命令速度固定0x80，预置位编号非法（不在1到255）时使用1
//
func PackPtzCmd(cmd int, presetId string) (string, error) {
	var b4, b5, b6, b7 int
	switch cmd {
	case PtzLeft, PtzRight:
		if cmd == PtzLeft {
			b4 = 0x02
		} else {
			b4 = 0x01
		}
		b5 = ptzDefaultSpeed
	case PtzUp, PtzDown:
		if cmd == PtzUp {
			b4 = 0x08
		} else {
			b4 = 0x04
		}
		b6 = ptzDefaultSpeed
	case PtzZoomIn, PtzZoomOut:
		if cmd == PtzZoomIn {
			b4 = 0x10
		} else {
			b4 = 0x20
		}
		b7 = ptzDefaultSpeed
	case PtzLeftUp, PtzRightUp, PtzLeftDown, PtzRightDown:
		switch cmd {
		case PtzLeftUp:
			b4 = 0x0A
		case PtzRightUp:
			b4 = 0x09
		case PtzLeftDown:
			b4 = 0x06
		default:
			b4 = 0x05
		}
		b5 = ptzDefaultSpeed
		b6 = ptzDefaultSpeed
	case PtzPresetGoto, PtzPresetSet, PtzPresetDel:
		switch cmd {
		case PtzPresetGoto:
			b4 = 0x82
		case PtzPresetSet:
			b4 = 0x81
		default:
			b4 = 0x83
		}
		id, err := strconv.Atoi(presetId)
		if err != nil || id <= 0 || id > 255 {
			id = 1
		}
		b6 = id
	default:
		return "", base.NewErrPtzParam(cmd, presetId)
	}

	const b1, b2, b3 = 0xA5, 0x0F, 0x4D
	cs := (b1 + b2 + b3 + b4 + b5 + b6 + b7) % 256
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X%02X%02X", b1, b2, b3, b4, b5, b6, b7, cs), nil
}

// ---------------------------------------------------------------------------------------------------------------------

// ptzControl Any 为 base.PtzCmd
//
// 方向和变倍命令在 TimeoutMs 之后自动发送停止，等待放在任务池中，到期后以 MsgPtzStop 回到引擎。
//
// 任务池的协程数为 ptz_worker_num，等待中的任务超过它时新任务要排队。任务按提交时算好的截止时间等待，
// 排队只会让停止晚到前面任务的剩余时间，不会再叠加一个完整的 TimeoutMs。
//
func (s *Server) ptzControl(msg base.Message) {
	var cmd base.PtzCmd
	switch v := msg.Any.(type) {
	case base.PtzCmd:
		cmd = v
	case *base.PtzCmd:
		cmd = *v
	default:
		Log.Errorf("[%s] ptz control without param. %s", s.uniqueKey, msg)
		return
	}

	packed, err := PackPtzCmd(cmd.PtzCmd, cmd.PresetId)
	if err != nil {
		Log.Warnf("[%s] pack ptz cmd failed. device=%s, err=%+v", s.uniqueKey, cmd.DevId, err)
		return
	}
	dev, ok := s.devReg.FindDevice(cmd.DevId)
	if !ok {
		Log.Warnf("[%s] ptz device not exist. device=%s", s.uniqueKey, cmd.DevId)
		return
	}
	d, ok := s.domains[dev.DomainId]
	if !ok {
		Log.Warnf("[%s] ptz device domain not exist. device=%s, domain=%s", s.uniqueKey, cmd.DevId, dev.DomainId)
		return
	}

	if err := s.sendManscdp(d, cmd.DevId, packPtzControl(s.ptzSn.next(nil), cmd.DevId, packed)); err != nil {
		return
	}
	Log.Debugf("[%s] ptz control. device=%s, cmd=%d, ptz=%s, timeout=%d", s.uniqueKey, cmd.DevId, cmd.PtzCmd, packed, cmd.TimeoutMs)

	if IsPresetPtzCmd(cmd.PtzCmd) || cmd.TimeoutMs <= 0 {
		return
	}

	task := &ptzTask{
		id: s.ptzTaskId.next(func(id int) bool {
			_, exist := s.ptzTasks[id]
			return exist
		}),
		deviceId: cmd.DevId,
		domainId: d.id,
	}
	s.ptzTasks[task.id] = task

	if status := s.ptzPool.GetCurrentStatus(); status.IdleWorkerNum == 0 && status.TotalWorkerNum >= s.ptzWorkerNum {
		Log.Warnf("[%s] ptz task pool busy, stop may be late. device=%s, pending=%d, block=%d",
			s.uniqueKey, cmd.DevId, len(s.ptzTasks), status.BlockTaskNum)
	}

	r := s.r
	deadline := time.Now().Add(time.Duration(cmd.TimeoutMs) * time.Millisecond)
	s.ptzPool.Go(func(param ...interface{}) {
		taskId := param[0].(int)
		until := param[1].(time.Time)
		if d := time.Until(until); d > 0 {
			time.Sleep(d)
		}
		r.EnqueMsg(base.Message{
			MsgId:     base.MsgPtzStop,
			DstType:   r.ServiceType(),
			DstId:     r.InstanceId(),
			SessionId: taskId,
		})
	}, task.id, deadline)
}

// onPtzStop 下级域在等待期间下线时任务已被清理，直接丢弃
func (s *Server) onPtzStop(msg base.Message) {
	task, ok := s.ptzTasks[msg.SessionId]
	if !ok {
		Log.Debugf("[%s] ptz stop task not exist, drop it. id=%d", s.uniqueKey, msg.SessionId)
		return
	}
	delete(s.ptzTasks, task.id)

	d, ok := s.domains[task.domainId]
	if !ok {
		return
	}
	_ = s.sendManscdp(d, task.deviceId, packPtzControl(s.ptzSn.next(nil), task.deviceId, ptzStopCmdString))
}
