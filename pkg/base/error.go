// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"errors"
	"fmt"
)

// ----- 通用的 ---------------------------------------------------------------------------------------------------------

var (
	ErrShortBuffer = errors.New("lalgb: buffer too short")
	ErrListen      = errors.New("lalgb: listen failed")
)

// ----- pkg/reactor ---------------------------------------------------------------------------------------------------

var (
	ErrServiceTypeNotFound = errors.New("lalgb.reactor: service type not found")
	ErrInstanceNotFound    = errors.New("lalgb.reactor: instance not found")
	ErrServiceDuplicate    = errors.New("lalgb.reactor: service already registered")

	ErrEventInvalid   = errors.New("lalgb.reactor: invalid event")
	ErrEventDuplicate = errors.New("lalgb.reactor: event already added")
	ErrEventNotFound  = errors.New("lalgb.reactor: event not found")
	ErrReactorExited  = errors.New("lalgb.reactor: reactor already exited")
)

func NewErrServiceTypeNotFound(t ServiceType) error {
	return fmt.Errorf("%w. type=%s", ErrServiceTypeNotFound, t)
}

func NewErrInstanceNotFound(t ServiceType, id int) error {
	return fmt.Errorf("%w. type=%s, id=%d", ErrInstanceNotFound, t, id)
}

// ----- pkg/sip -------------------------------------------------------------------------------------------------------

var (
	ErrSip           = errors.New("lalgb.sip: fxxk")
	ErrSipHeader     = errors.New("lalgb.sip: invalid header")
	ErrSipTooLarge   = errors.New("lalgb.sip: message too large")
	ErrSipMissHeader = errors.New("lalgb.sip: required header missing")
)

func NewErrSipHeader(name, value string) error {
	return fmt.Errorf("%w. name=%s, value=%s", ErrSipHeader, name, value)
}

func NewErrSipMissHeader(name string) error {
	return fmt.Errorf("%w. name=%s", ErrSipMissHeader, name)
}

func NewErrSipTooLarge(size int) error {
	return fmt.Errorf("%w. size=%d", ErrSipTooLarge, size)
}

// ----- pkg/devmgr ----------------------------------------------------------------------------------------------------

var (
	ErrDeviceNotFound = errors.New("lalgb.devmgr: device not found")
	ErrDbNotOpen      = errors.New("lalgb.devmgr: db not open")
)

// ----- pkg/gb28181 ---------------------------------------------------------------------------------------------------

var (
	ErrGb28181  = errors.New("lalgb.gb28181: fxxk")
	ErrManscdp  = errors.New("lalgb.gb28181: invalid manscdp body")
	ErrPtzParam = errors.New("lalgb.gb28181: invalid ptz param")
)

func NewErrManscdp(cmdType string, reason string) error {
	return fmt.Errorf("%w. cmd=%s, reason=%s", ErrManscdp, cmdType, reason)
}

func NewErrPtzParam(cmd int, presetId string) error {
	return fmt.Errorf("%w. cmd=%d, preset=%s", ErrPtzParam, cmd, presetId)
}

// ----- pkg/logic -----------------------------------------------------------------------------------------------------

var (
	ErrConfig          = errors.New("lalgb.logic: invalid config")
	ErrHttpReplyTimout = errors.New("lalgb.logic: wait bus reply timeout")
)

// ---------------------------------------------------------------------------------------------------------------------
