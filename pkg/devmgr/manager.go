// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package devmgr

import (
	"context"
	"sort"
	"sync"
	"time"
)

// IDeviceRegistry 信令引擎依赖的设备表
//
// 所有方法都可能被多个 goroutine 并发调用，返回的 Device 是拷贝
//
type IDeviceRegistry interface {
	FindDevice(id string) (Device, bool)
	AddOrUpdateDevice(dev Device)
	DeleteDevice(ids []string)
	GetDomainDevice(domainId string) []Device
	SetStatus(id string, status string)

	// GetMapIp 没有映射时返回空串
	GetMapIp(ip string) string
	AddMapIp(from, to string)
	DelMapIp(from string)
}

// IStore 持久化，Manager 在每次修改后写穿
type IStore interface {
	LoadDevices(ctx context.Context) ([]Device, error)
	UpsertDevice(ctx context.Context, dev Device) error
	DeleteDevices(ctx context.Context, ids []string) error
	LoadNetMap(ctx context.Context) (map[string]string, error)
	SaveNetMap(ctx context.Context, from, to string) error
	DeleteNetMap(ctx context.Context, from string) error
	Close() error
}

var storeTimeout = 5 * time.Second

type Manager struct {
	store IStore

	mutex   sync.Mutex
	devices map[string]*Device
	netMap  map[string]string
}

var _ IDeviceRegistry = &Manager{}

// NewManager
//
// @param store 可以为nil，此时只在内存中维护
//
func NewManager(store IStore) *Manager {
	return &Manager{
		store:   store,
		devices: make(map[string]*Device),
		netMap:  make(map[string]string),
	}
}

// Load 从持久化中恢复设备和 NAT 映射，启动时调用一次
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	devs, err := m.store.LoadDevices(ctx)
	if err != nil {
		return err
	}
	nm, err := m.store.LoadNetMap(ctx)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := range devs {
		d := devs[i]
		// 重启后设备状态以重新注册为准
		d.Status = StatusOff
		d.Refreshed = true
		m.devices[d.DeviceId] = &d
	}
	for k, v := range nm {
		m.netMap[k] = v
	}
	Log.Infof("load devices. device=%d, netmap=%d", len(devs), len(nm))
	return nil
}

func (m *Manager) FindDevice(id string) (Device, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// AddOrUpdateDevice 不存在时添加，存在时更新
//
// 更新时经纬度为空不覆盖已有值，与目录上报经常缺省经纬度的情况对应
//
func (m *Manager) AddOrUpdateDevice(dev Device) {
	m.mutex.Lock()
	d, ok := m.devices[dev.DeviceId]
	if !ok {
		nd := dev
		m.devices[dev.DeviceId] = &nd
	} else {
		lon, lat := d.Longitude, d.Latitude
		*d = dev
		if d.Longitude == "" {
			d.Longitude = lon
		}
		if d.Latitude == "" {
			d.Latitude = lat
		}
		dev = *d
	}
	m.mutex.Unlock()

	m.withStore(func(ctx context.Context, s IStore) error {
		return s.UpsertDevice(ctx, dev)
	})
}

func (m *Manager) DeleteDevice(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mutex.Lock()
	for _, id := range ids {
		delete(m.devices, id)
	}
	m.mutex.Unlock()

	m.withStore(func(ctx context.Context, s IStore) error {
		return s.DeleteDevices(ctx, ids)
	})
}

func (m *Manager) SetStatus(id string, status string) {
	m.mutex.Lock()
	d, ok := m.devices[id]
	if !ok || d.Status == status {
		m.mutex.Unlock()
		return
	}
	d.Status = status
	dev := *d
	m.mutex.Unlock()

	m.withStore(func(ctx context.Context, s IStore) error {
		return s.UpsertDevice(ctx, dev)
	})
}

// GetDomainDevice 按 DeviceId 排序
func (m *Manager) GetDomainDevice(domainId string) []Device {
	m.mutex.Lock()
	var ret []Device
	for _, d := range m.devices {
		if d.DomainId == domainId {
			ret = append(ret, *d)
		}
	}
	m.mutex.Unlock()
	sortDevices(ret)
	return ret
}

// GetAllDevice 分页，page 从1开始，size 为0时返回全部
func (m *Manager) GetAllDevice(page, size int) (total int, out []Device) {
	m.mutex.Lock()
	all := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		all = append(all, *d)
	}
	m.mutex.Unlock()
	sortDevices(all)

	total = len(all)
	if size <= 0 {
		return total, all
	}
	if page < 1 {
		page = 1
	}
	off := (page - 1) * size
	if off >= total {
		return total, nil
	}
	end := off + size
	if end > total {
		end = total
	}
	return total, all[off:end]
}

func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.devices)
}

// ----- NAT 映射 -------------------------------------------------------------------------------------------------------

func (m *Manager) GetMapIp(ip string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.netMap[ip]
}

func (m *Manager) AddMapIp(from, to string) {
	m.mutex.Lock()
	m.netMap[from] = to
	m.mutex.Unlock()

	m.withStore(func(ctx context.Context, s IStore) error {
		return s.SaveNetMap(ctx, from, to)
	})
}

func (m *Manager) DelMapIp(from string) {
	m.mutex.Lock()
	delete(m.netMap, from)
	m.mutex.Unlock()

	m.withStore(func(ctx context.Context, s IStore) error {
		return s.DeleteNetMap(ctx, from)
	})
}

func (m *Manager) NetMap() map[string]string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ret := make(map[string]string, len(m.netMap))
	for k, v := range m.netMap {
		ret[k] = v
	}
	return ret
}

func (m *Manager) Dispose() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// ---------------------------------------------------------------------------------------------------------------------

// withStore 持久化失败只记日志，内存中的状态以最新为准
func (m *Manager) withStore(fn func(ctx context.Context, s IStore) error) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx, m.store); err != nil {
		Log.Errorf("write store failed. err=%+v", err)
	}
}

func sortDevices(devs []Device) {
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].DeviceId < devs[j].DeviceId
	})
}
