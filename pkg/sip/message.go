// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package sip

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/q191201771/lalgb/pkg/base"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

type Method int

const (
	MethodUnknown Method = iota
	MethodRegister
	MethodMessage
	MethodInvite
	MethodAck
	MethodBye
	MethodCancel
	MethodNotify
)

var methodNames = [...]string{
	MethodUnknown:  "UNKNOWN",
	MethodRegister: "REGISTER",
	MethodMessage:  "MESSAGE",
	MethodInvite:   "INVITE",
	MethodAck:      "ACK",
	MethodBye:      "BYE",
	MethodCancel:   "CANCEL",
	MethodNotify:   "NOTIFY",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return methodNames[MethodUnknown]
	}
	return methodNames[m]
}

func ParseMethod(s string) Method {
	switch strings.ToUpper(s) {
	case "REGISTER":
		return MethodRegister
	case "MESSAGE":
		return MethodMessage
	case "INVITE":
		return MethodInvite
	case "ACK":
		return MethodAck
	case "BYE":
		return MethodBye
	case "CANCEL":
		return MethodCancel
	case "NOTIFY":
		return MethodNotify
	}
	return MethodUnknown
}

// ---------------------------------------------------------------------------------------------------------------------

type HeaderField struct {
	Name  string
	Value string
}

// Header 保持添加顺序，名字不区分大小写，同名头部可以出现多次（比如 Via）
type Header struct {
	fields []HeaderField
}

// CanonicalName 将头部名（含紧凑形式）转换为规范名，不认识的保持原样
func CanonicalName(name string) string {
	if c, ok := canonicalNames[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

func (h *Header) Get(name string) string {
	name = CanonicalName(name)
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func (h *Header) Values(name string) []string {
	name = CanonicalName(name)
	var ret []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			ret = append(ret, f.Value)
		}
	}
	return ret
}

func (h *Header) Has(name string) bool {
	name = CanonicalName(name)
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: CanonicalName(name), Value: value})
}

// Set 替换所有同名头部，不存在则添加
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// SetFirst 只替换第一个同名头部，不存在则添加，改写最上层 Via 时使用
func (h *Header) SetFirst(name, value string) {
	name = CanonicalName(name)
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			h.fields[i].Value = value
			return
		}
	}
	h.Add(name, value)
}

func (h *Header) Del(name string) {
	name = CanonicalName(name)
	fields := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			fields = append(fields, f)
		}
	}
	h.fields = fields
}

func (h *Header) Fields() []HeaderField {
	return h.fields
}

// ---------------------------------------------------------------------------------------------------------------------

// Message 一条 SIP 请求或应答
type Message struct {
	IsRequest bool

	// 请求
	Method    Method
	MethodStr string
	Uri       string

	// 应答
	StatusCode int
	Reason     string

	Version string
	Header  Header
	Body    []byte
}

func (m *Message) IsResponse() bool {
	return !m.IsRequest
}

func (m *Message) CallId() string {
	return m.Header.Get(HeaderCallId)
}

func (m *Message) From() string {
	return m.Header.Get(HeaderFrom)
}

func (m *Message) To() string {
	return m.Header.Get(HeaderTo)
}

func (m *Message) Contact() string {
	return m.Header.Get(HeaderContact)
}

// Via 第一个 Via
func (m *Message) Via() string {
	return m.Header.Get(HeaderVia)
}

func (m *Message) ContentType() string {
	return m.Header.Get(HeaderContentType)
}

func (m *Message) CSeq() CSeq {
	c, _ := ParseCSeq(m.Header.Get(HeaderCSeq))
	return c
}

// Expires 不存在或者非法时返回 -1
func (m *Message) Expires() int {
	v := strings.TrimSpace(m.Header.Get(HeaderExpires))
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func (m *Message) IsManscdp() bool {
	return strings.EqualFold(strings.TrimSpace(m.ContentType()), ContentTypeManscdp)
}

// StartLine 请求行或状态行，日志用
func (m *Message) StartLine() string {
	if m.IsRequest {
		return m.MethodStr + " " + m.Uri + " " + m.Version
	}
	return m.Version + " " + strconv.Itoa(m.StatusCode) + " " + m.Reason
}

// ---------------------------------------------------------------------------------------------------------------------

type CSeq struct {
	Num    int
	Method Method
	// MethodStr 原始的方法名
	MethodStr string
}

func ParseCSeq(v string) (CSeq, error) {
	items := strings.Fields(v)
	if len(items) != 2 {
		return CSeq{}, base.NewErrSipHeader(HeaderCSeq, v)
	}
	n, err := strconv.Atoi(items[0])
	if err != nil {
		return CSeq{}, base.NewErrSipHeader(HeaderCSeq, v)
	}
	return CSeq{Num: n, Method: ParseMethod(items[1]), MethodStr: items[1]}, nil
}

// ---------------------------------------------------------------------------------------------------------------------

// Parse 解析一条完整的消息
//
// 有 Content-Length 时包体按其截取，没有时剩余部分全部作为包体（udp 单包的情况）
//
func Parse(b []byte) (*Message, error) {
	hdrEnd, sepLen := findHeaderEnd(b)
	if hdrEnd < 0 {
		return nil, nazaerrors.Wrap(base.ErrSip)
	}

	lines := strings.Split(string(b[:hdrEnd]), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	// 容忍开头的空行
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return nil, nazaerrors.Wrap(base.ErrSip)
	}

	m := &Message{}
	if err := m.parseStartLine(lines[0]); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		// 折行
		if line[0] == ' ' || line[0] == '\t' {
			n := len(m.Header.fields)
			if n == 0 {
				return nil, nazaerrors.Wrap(base.NewErrSipHeader("", line))
			}
			m.Header.fields[n-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, nazaerrors.Wrap(base.NewErrSipHeader("", line))
		}
		name := CanonicalName(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if name == HeaderVia {
			// 一行内多个 Via 以逗号分隔
			for _, v := range strings.Split(value, ",") {
				if v = strings.TrimSpace(v); v != "" {
					m.Header.Add(name, v)
				}
			}
			continue
		}
		m.Header.Add(name, value)
	}

	rest := b[hdrEnd+sepLen:]
	if clv := m.Header.Get(HeaderContentLength); clv != "" {
		cl, err := strconv.Atoi(strings.TrimSpace(clv))
		if err != nil || cl < 0 {
			return nil, nazaerrors.Wrap(base.NewErrSipHeader(HeaderContentLength, clv))
		}
		if cl > len(rest) {
			return nil, nazaerrors.Wrap(base.ErrShortBuffer)
		}
		rest = rest[:cl]
	}
	if len(rest) > 0 {
		m.Body = make([]byte, len(rest))
		copy(m.Body, rest)
	}
	return m, nil
}

func (m *Message) parseStartLine(line string) error {
	items := strings.SplitN(line, " ", 3)
	if len(items) != 3 {
		return nazaerrors.Wrap(base.NewErrSipHeader("start-line", line))
	}
	if strings.HasPrefix(items[0], "SIP/") {
		code, err := strconv.Atoi(items[1])
		if err != nil || code < 100 || code > 699 {
			return nazaerrors.Wrap(base.NewErrSipHeader("status-line", line))
		}
		m.IsRequest = false
		m.Version = items[0]
		m.StatusCode = code
		m.Reason = strings.TrimSpace(items[2])
		return nil
	}
	if !strings.HasPrefix(items[2], "SIP/") {
		return nazaerrors.Wrap(base.NewErrSipHeader("request-line", line))
	}
	m.IsRequest = true
	m.MethodStr = items[0]
	m.Method = ParseMethod(items[0])
	m.Uri = items[1]
	m.Version = strings.TrimSpace(items[2])
	return nil
}

// findHeaderEnd 返回头部结束的位置以及空行分隔符的长度
func findHeaderEnd(b []byte) (int, int) {
	if idx := bytes.Index(b, []byte("\r\n\r\n")); idx >= 0 {
		return idx, 4
	}
	if idx := bytes.Index(b, []byte("\n\n")); idx >= 0 {
		return idx, 2
	}
	return -1, 0
}
