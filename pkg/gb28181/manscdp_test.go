// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/q191201771/naza/pkg/assert"
)

func TestPackPtzCmd(t *testing.T) {
	golden := []struct {
		cmd      int
		presetId string
		out      string
	}{
		{PtzRight, "", "A50F4D0180000082"},
		{PtzLeft, "", "A50F4D0280000083"},
		{PtzUp, "", "A50F4D0800800089"},
		{PtzZoomIn, "", "A50F4D1000008091"},
		{PtzLeftUp, "", "A50F4D0A8080000B"},
		{PtzPresetGoto, "3", "A50F4D8200030086"},
		{PtzPresetSet, "abc", "A50F4D8100010083"},
		{PtzPresetSet, "256", "A50F4D8100010083"},
	}
	for _, item := range golden {
		out, err := PackPtzCmd(item.cmd, item.presetId)
		assert.Equal(t, nil, err)
		assert.Equal(t, item.out, out)
	}

	_, err := PackPtzCmd(ptzCmdReserved, "")
	assert.IsNotNil(t, err)
	_, err = PackPtzCmd(0, "")
	assert.IsNotNil(t, err)

	assert.Equal(t, false, IsValidPtzCmd(10))
	assert.Equal(t, true, IsValidPtzCmd(14))
	assert.Equal(t, false, IsValidPtzCmd(15))
	assert.Equal(t, true, IsPresetPtzCmd(PtzPresetDel))
	assert.Equal(t, false, IsPresetPtzCmd(PtzZoomOut))
}

func TestParseManscdp(t *testing.T) {
	body := "<?xml version=\"1.0\"?>\r\n<Response>\r\n<CmdType> Catalog </CmdType>\r\n<SN>7</SN>\r\n" +
		"<DeviceID>34020000002000000002</DeviceID>\r\n<SumNum>1</SumNum>\r\n<DeviceList Num=\"1\">\r\n" +
		"<Item><DeviceID>34020000001320000001</DeviceID><Name>cam</Name><Status>ON</Status>" +
		"<ParentID>34020000002000000002</ParentID><Info><PTZType>1</PTZType></Info></Item>\r\n" +
		"</DeviceList>\r\n</Response>\r\n"
	m, err := ParseManscdp([]byte(body))
	assert.Equal(t, nil, err)
	assert.Equal(t, "Response", m.XMLName.Local)
	assert.Equal(t, cmdTypeCatalog, m.CmdType)
	assert.Equal(t, 7, m.SN)
	assert.Equal(t, 1, m.SumNum)
	assert.Equal(t, 1, len(m.DeviceList))
	assert.Equal(t, "cam", m.DeviceList[0].Name)
	assert.Equal(t, 1, m.DeviceList[0].PTZType)
	assert.IsNotNil(t, m.DeviceList[0].ParentID)
	assert.Equal(t, (*string)(nil), m.DeviceList[0].BusinessGroupID)

	_, err = ParseManscdp([]byte("<Response><CmdType>"))
	assert.IsNotNil(t, err)
}

func TestParseManscdpGbk(t *testing.T) {
	// "前门摄像头" 的 GBK 编码
	name, _ := hex.DecodeString("c7b0c3c5c9e3cff1cdb7")

	build := func(decl string) []byte {
		var b []byte
		b = append(b, []byte(decl+"<Response><CmdType>Catalog</CmdType><SN>1</SN><SumNum>1</SumNum><DeviceList>"+
			"<Item><DeviceID>34020000001320000001</DeviceID><Name>")...)
		b = append(b, name...)
		b = append(b, []byte("</Name></Item></DeviceList></Response>")...)
		return b
	}

	for _, decl := range []string{
		"<?xml version=\"1.0\" encoding=\"GB2312\"?>\r\n",
		"<?xml version=\"1.0\"?>\r\n",
		"",
	} {
		m, err := ParseManscdp(build(decl))
		assert.Equal(t, nil, err)
		assert.Equal(t, 1, len(m.DeviceList))
		assert.Equal(t, "前门摄像头", m.DeviceList[0].Name)
	}
}

func TestPackQuery(t *testing.T) {
	b := string(packRecordInfoQuery(3, testCameraA, "2024-01-01T00:00:00", "2024-01-01T01:00:00", "all"))
	assert.Equal(t, true, strings.Contains(b, "<CmdType>RecordInfo</CmdType>"))
	assert.Equal(t, true, strings.Contains(b, "<SN>3</SN>"))
	assert.Equal(t, true, strings.Contains(b, "<Type>all</Type>"))

	m, err := ParseManscdp(packPtzControl(9, testCameraA, "A50F4D0000000001"))
	assert.Equal(t, nil, err)
	assert.Equal(t, "Control", m.XMLName.Local)
	assert.Equal(t, cmdTypeDeviceControl, m.CmdType)
	assert.Equal(t, testCameraA, m.DeviceID)

	m, err = ParseManscdp(packCatalogQuery(1, testDomainId))
	assert.Equal(t, nil, err)
	assert.Equal(t, "Query", m.XMLName.Local)
	assert.Equal(t, cmdTypeCatalog, m.CmdType)

	assert.Equal(t, "a&lt;b", xmlEscape("a<b"))
}
