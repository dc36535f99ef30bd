// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package devmgr_test

import (
	"path/filepath"
	"testing"

	"github.com/q191201771/lalgb/pkg/devmgr"
	"github.com/q191201771/naza/pkg/assert"
)

func TestDeviceTypeFromId(t *testing.T) {
	cases := []struct {
		id     string
		expect devmgr.DeviceType
	}{
		{"3402", devmgr.DeviceTypeCivil},
		{"34020000", devmgr.DeviceTypeCivil},
		{"340200000", devmgr.DeviceTypeUnknown},
		{"34020000001310000001", devmgr.DeviceTypeCamera},
		{"34020000001320000001", devmgr.DeviceTypeCamera},
		{"34020000006010000001", devmgr.DeviceTypeCamera},
		{"34020000001210000001", devmgr.DeviceTypeCamera},
		{"34020000001110000001", devmgr.DeviceTypeNvr},
		{"34020000002150000001", devmgr.DeviceTypeBizGroup},
		{"34020000002160000001", devmgr.DeviceTypeVirtualGroup},
		{"34020000002000000001", devmgr.DeviceTypeDomain},
		{"34020000003000000001", devmgr.DeviceTypeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, devmgr.DeviceTypeFromId(c.id), c.id)
	}
	assert.Equal(t, "camera", devmgr.DeviceTypeCamera.String())
}

func TestManager(t *testing.T) {
	m := devmgr.NewManager(nil)
	m.AddOrUpdateDevice(devmgr.Device{DeviceId: "b", DomainId: "d1", Name: "b", Longitude: "120.1", Status: devmgr.StatusOn})
	m.AddOrUpdateDevice(devmgr.Device{DeviceId: "a", DomainId: "d1", Name: "a"})
	m.AddOrUpdateDevice(devmgr.Device{DeviceId: "c", DomainId: "d2", Name: "c"})

	devs := m.GetDomainDevice("d1")
	assert.Equal(t, 2, len(devs))
	assert.Equal(t, "a", devs[0].DeviceId)

	// 空经纬度不覆盖
	m.AddOrUpdateDevice(devmgr.Device{DeviceId: "b", DomainId: "d1", Name: "bb", Status: devmgr.StatusOn})
	d, ok := m.FindDevice("b")
	assert.Equal(t, true, ok)
	assert.Equal(t, "bb", d.Name)
	assert.Equal(t, "120.1", d.Longitude)

	// 返回的是拷贝
	d.Name = "changed"
	d, _ = m.FindDevice("b")
	assert.Equal(t, "bb", d.Name)

	m.SetStatus("b", devmgr.StatusOff)
	d, _ = m.FindDevice("b")
	assert.Equal(t, false, d.IsOnline())
	m.SetStatus("notexist", devmgr.StatusOff)

	m.DeleteDevice([]string{"a", "notexist"})
	_, ok = m.FindDevice("a")
	assert.Equal(t, false, ok)
	assert.Equal(t, 2, m.Len())

	total, page := m.GetAllDevice(2, 1)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, len(page))
	assert.Equal(t, "c", page[0].DeviceId)
	_, page = m.GetAllDevice(3, 1)
	assert.Equal(t, 0, len(page))

	assert.Equal(t, "", m.GetMapIp("192.168.1.1"))
	m.AddMapIp("192.168.1.1", "1.2.3.4")
	assert.Equal(t, "1.2.3.4", m.GetMapIp("192.168.1.1"))
	m.DelMapIp("192.168.1.1")
	assert.Equal(t, "", m.GetMapIp("192.168.1.1"))
}

func TestSqliteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lalgb.db")
	store, err := devmgr.OpenSqliteStore(path)
	assert.Equal(t, nil, err)

	m := devmgr.NewManager(store)
	assert.Equal(t, nil, m.Load())
	m.AddOrUpdateDevice(devmgr.Device{
		DeviceId: "34020000001320000001",
		DomainId: "34020000002000000001",
		ParentId: "3402/34020000002150000001",
		Name:     "cam1",
		Status:   devmgr.StatusOn,
		Port:     5060,
		Type:     devmgr.DeviceTypeCamera,
		Protocol: devmgr.ProtocolGbDev,
	})
	m.AddOrUpdateDevice(devmgr.Device{DeviceId: "34020000001320000002", DomainId: "34020000002000000001"})
	m.DeleteDevice([]string{"34020000001320000002"})
	m.AddMapIp("192.168.1.1", "1.2.3.4")
	assert.Equal(t, nil, m.Dispose())

	store, err = devmgr.OpenSqliteStore(path)
	assert.Equal(t, nil, err)
	m = devmgr.NewManager(store)
	assert.Equal(t, nil, m.Load())
	defer m.Dispose()

	assert.Equal(t, 1, m.Len())
	d, ok := m.FindDevice("34020000001320000001")
	assert.Equal(t, true, ok)
	assert.Equal(t, "cam1", d.Name)
	assert.Equal(t, 5060, d.Port)
	assert.Equal(t, devmgr.DeviceTypeCamera, d.Type)
	assert.Equal(t, devmgr.ProtocolGbDev, d.Protocol)
	assert.Equal(t, []string{"3402", "34020000002150000001"}, d.ParentIds())
	// 重启后以重新注册为准
	assert.Equal(t, devmgr.StatusOff, d.Status)
	assert.Equal(t, "1.2.3.4", m.GetMapIp("192.168.1.1"))

	_, err = devmgr.OpenSqliteStore("")
	assert.IsNotNil(t, err)
}
