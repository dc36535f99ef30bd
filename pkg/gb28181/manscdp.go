// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/naza/pkg/nazaerrors"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Manscdp 设备发来的 MANSCDP 包体，Response、Notify 共用一个结构，只解析用到的字段
type Manscdp struct {
	XMLName    xml.Name
	CmdType    string        `xml:"CmdType"`
	SN         int           `xml:"SN"`
	DeviceID   string        `xml:"DeviceID"`
	SumNum     int           `xml:"SumNum"`
	NotifyType int           `xml:"NotifyType"`
	ErrorCode  string        `xml:"ErrorCode"`
	DeviceList []CatalogItem `xml:"DeviceList>Item"`
	RecordList []RecordItem  `xml:"RecordList>Item"`
	PresetList []PresetItem  `xml:"PresetList>Item"`
}

type CatalogItem struct {
	DeviceID        string  `xml:"DeviceID"`
	Event           string  `xml:"Event"`
	Name            string  `xml:"Name"`
	Manufacturer    string  `xml:"Manufacturer"`
	Model           string  `xml:"Model"`
	Owner           string  `xml:"Owner"`
	CivilCode       string  `xml:"CivilCode"`
	Address         string  `xml:"Address"`
	ParentID        *string `xml:"ParentID"`
	BusinessGroupID *string `xml:"BusinessGroupID"`
	Status          string  `xml:"Status"`
	IPAddress       string  `xml:"IPAddress"`
	Port            int     `xml:"Port"`
	Longitude       string  `xml:"Longitude"`
	Latitude        string  `xml:"Latitude"`
	PTZType         int     `xml:"Info>PTZType"`
}

type RecordItem struct {
	DeviceID  string `xml:"DeviceID" json:"deviceId"`
	Name      string `xml:"Name" json:"name"`
	StartTime string `xml:"StartTime" json:"startTime,omitempty"`
	EndTime   string `xml:"EndTime" json:"endTime,omitempty"`
	Type      string `xml:"Type" json:"type,omitempty"`
}

type PresetItem struct {
	PresetID   string `xml:"PresetID" json:"presetID"`
	PresetName string `xml:"PresetName" json:"presetName"`
}

// ParseManscdp
//
// 国标设备普遍使用 GB2312/GBK 编码，声明了编码时由 CharsetReader 转换，
// 未声明但内容不是合法 utf8 时整体按 GBK 转换后再解析
//
func ParseManscdp(b []byte) (*Manscdp, error) {
	if !utf8.Valid(b) && !hasEncodingDecl(b) {
		u, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), b)
		if err == nil {
			b = u
		}
	}

	var m Manscdp
	d := xml.NewDecoder(bytes.NewReader(b))
	d.CharsetReader = charsetReader
	if err := d.Decode(&m); err != nil {
		return nil, nazaerrors.Wrap(base.NewErrManscdp("", err.Error()))
	}
	m.CmdType = strings.TrimSpace(m.CmdType)
	m.DeviceID = strings.TrimSpace(m.DeviceID)
	return &m, nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gb2312", "gbk", "gb18030":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	case "utf-8", "utf8", "":
		return input, nil
	}
	return nil, base.NewErrManscdp("", "unsupported charset "+charset)
}

func hasEncodingDecl(b []byte) bool {
	end := bytes.Index(b, []byte("?>"))
	if end < 0 {
		return false
	}
	return bytes.Contains(bytes.ToLower(b[:end]), []byte("encoding"))
}

// ----- 下发的请求 ------------------------------------------------------------------------------------------------------

func packCatalogQuery(sn int, deviceId string) []byte {
	return []byte(fmt.Sprintf("<?xml version=\"1.0\"?>\r\n<Query>\r\n<CmdType>%s</CmdType>\r\n<SN>%d</SN>\r\n"+
		"<DeviceID>%s</DeviceID>\r\n</Query>\r\n", cmdTypeCatalog, sn, deviceId))
}

func packRecordInfoQuery(sn int, deviceId, startTime, endTime, recordType string) []byte {
	return []byte(fmt.Sprintf("<?xml version=\"1.0\"?>\r\n<Query>\r\n<CmdType>%s</CmdType>\r\n<SN>%d</SN>\r\n"+
		"<DeviceID>%s</DeviceID>\r\n<StartTime>%s</StartTime>\r\n<EndTime>%s</EndTime>\r\n<Type>%s</Type>\r\n</Query>\r\n",
		cmdTypeRecordInfo, sn, deviceId, xmlEscape(startTime), xmlEscape(endTime), xmlEscape(recordType)))
}

func packPresetQuery(sn int, deviceId string) []byte {
	return []byte(fmt.Sprintf("<?xml version=\"1.0\"?>\r\n<Query>\r\n<CmdType>%s</CmdType>\r\n<SN>%d</SN>\r\n"+
		"<DeviceID>%s</DeviceID>\r\n</Query>\r\n", cmdTypePresetQuery, sn, deviceId))
}

func packPtzControl(sn int, deviceId string, ptzCmd string) []byte {
	return []byte(fmt.Sprintf("<?xml version=\"1.0\"?>\r\n<Control>\r\n<CmdType>%s</CmdType>\r\n<SN>%d</SN>\r\n"+
		"<DeviceID>%s</DeviceID>\r\n<PTZCmd>%s</PTZCmd>\r\n<Info><ControlPriority>5</ControlPriority></Info>\r\n</Control>\r\n",
		cmdTypeDeviceControl, sn, deviceId, ptzCmd))
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
