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
	"crypto/rand"
	"strconv"
	"strings"

	"github.com/q191201771/lalgb/pkg/base"
)

// Builder 构造一条请求或应答
//
// 头部按固定顺序序列化，Build 时做校验，非法的消息不会被发送出去
//
type Builder struct {
	isRequest bool
	method    Method
	uri       string
	code      int
	reason    string

	header      Header
	contentType string
	body        []byte
}

func NewRequest(method Method, uri string) *Builder {
	b := &Builder{
		isRequest: true,
		method:    method,
		uri:       uri,
	}
	b.header.Set(HeaderMaxForwards, strconv.Itoa(DefaultMaxForwards))
	b.header.Set(HeaderUserAgent, base.LalGbSipUserAgent)
	return b
}

// NewResponse 应答，从请求中拷贝 Via、Record-Route、From、To、Call-ID、CSeq、Expires
//
// @param reason 为空时使用状态码对应的默认描述
//
func NewResponse(req *Message, code int, reason string) *Builder {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	b := &Builder{
		isRequest: false,
		code:      code,
		reason:    reason,
	}
	for _, name := range []string{HeaderVia, HeaderRecordRoute, HeaderFrom, HeaderTo, HeaderCallId, HeaderCSeq, HeaderExpires} {
		for _, v := range req.Header.Values(name) {
			b.header.Add(name, v)
		}
	}
	b.header.Set(HeaderUserAgent, base.LalGbSipUserAgent)
	return b
}

func (b *Builder) AddVia(v string) *Builder {
	b.header.Add(HeaderVia, v)
	return b
}

// SetVia 替换所有 Via
func (b *Builder) SetVia(v string) *Builder {
	b.header.Set(HeaderVia, v)
	return b
}

func (b *Builder) SetFrom(v string) *Builder {
	b.header.Set(HeaderFrom, v)
	return b
}

func (b *Builder) SetTo(v string) *Builder {
	b.header.Set(HeaderTo, v)
	return b
}

func (b *Builder) SetCallId(v string) *Builder {
	b.header.Set(HeaderCallId, v)
	return b
}

func (b *Builder) SetCSeq(num int, method Method) *Builder {
	b.header.Set(HeaderCSeq, BuildCSeq(num, method))
	return b
}

func (b *Builder) SetContact(v string) *Builder {
	b.header.Set(HeaderContact, v)
	return b
}

func (b *Builder) SetExpires(n int) *Builder {
	b.header.Set(HeaderExpires, strconv.Itoa(n))
	return b
}

func (b *Builder) SetSubject(v string) *Builder {
	b.header.Set(HeaderSubject, v)
	return b
}

func (b *Builder) SetWwwAuthenticate(v string) *Builder {
	b.header.Set(HeaderWwwAuthenticate, v)
	return b
}

func (b *Builder) SetDate(v string) *Builder {
	b.header.Set(HeaderDate, v)
	return b
}

func (b *Builder) SetEvent(v string) *Builder {
	b.header.Set(HeaderEvent, v)
	return b
}

// SetHeader 任意头部，已有同名头部时替换
func (b *Builder) SetHeader(name, value string) *Builder {
	b.header.Set(name, value)
	return b
}

// SetToTag To 没有 tag 时补上，应答需要
func (b *Builder) SetToTag(tag string) *Builder {
	if to := b.header.Get(HeaderTo); to != "" {
		b.header.Set(HeaderTo, WithTag(to, tag))
	}
	return b
}

func (b *Builder) SetBody(contentType string, body []byte) *Builder {
	b.contentType = contentType
	b.body = body
	return b
}

func (b *Builder) Header() *Header {
	return &b.header
}

// Build 校验并序列化
func (b *Builder) Build() ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	h := b.header
	h.fields = append([]HeaderField(nil), b.header.fields...)
	h.Set(HeaderContentLength, strconv.Itoa(len(b.body)))
	if len(b.body) > 0 {
		h.Set(HeaderContentType, b.contentType)
	} else {
		h.Del(HeaderContentType)
	}

	var buf bytes.Buffer
	if b.isRequest {
		buf.WriteString(b.method.String())
		buf.WriteString(" ")
		buf.WriteString(b.uri)
		buf.WriteString(" ")
		buf.WriteString(Version)
	} else {
		buf.WriteString(Version)
		buf.WriteString(" ")
		buf.WriteString(strconv.Itoa(b.code))
		buf.WriteString(" ")
		buf.WriteString(b.reason)
	}
	buf.WriteString("\r\n")

	written := make(map[string]bool, len(dumpOrder))
	for _, name := range dumpOrder {
		written[strings.ToLower(name)] = true
		for _, v := range h.Values(name) {
			writeHeaderLine(&buf, name, v)
		}
	}
	for _, f := range h.fields {
		if written[strings.ToLower(f.Name)] {
			continue
		}
		writeHeaderLine(&buf, f.Name, f.Value)
	}
	buf.WriteString("\r\n")
	buf.Write(b.body)

	if buf.Len() > MaxMessageSize {
		return nil, base.NewErrSipTooLarge(buf.Len())
	}
	return buf.Bytes(), nil
}

func (b *Builder) validate() error {
	if b.isRequest {
		if b.method == MethodUnknown {
			return base.NewErrSipHeader("method", b.method.String())
		}
		if b.uri == "" || strings.ContainsAny(b.uri, "\r\n ") {
			return base.NewErrSipHeader("uri", b.uri)
		}
	} else {
		if b.code < 100 || b.code > 699 {
			return base.NewErrSipHeader("status-code", strconv.Itoa(b.code))
		}
		if strings.ContainsAny(b.reason, "\r\n") {
			return base.NewErrSipHeader("reason", b.reason)
		}
	}

	for _, name := range []string{HeaderVia, HeaderFrom, HeaderTo, HeaderCallId, HeaderCSeq} {
		if !b.header.Has(name) {
			return base.NewErrSipMissHeader(name)
		}
	}
	for _, f := range b.header.fields {
		if f.Name == "" || strings.ContainsAny(f.Name, "\r\n: ") {
			return base.NewErrSipHeader(f.Name, f.Value)
		}
		if strings.ContainsAny(f.Value, "\r\n") {
			return base.NewErrSipHeader(f.Name, f.Value)
		}
	}
	if len(b.body) > 0 && (b.contentType == "" || strings.ContainsAny(b.contentType, "\r\n")) {
		return base.NewErrSipHeader(HeaderContentType, b.contentType)
	}
	if len(b.body) > MaxMessageSize {
		return base.NewErrSipTooLarge(len(b.body))
	}
	return nil
}

func writeHeaderLine(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// ---------------------------------------------------------------------------------------------------------------------

const randCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenRandStr 由数字和大写字母组成的随机串，用于 tag、branch、nonce、Call-ID
func GenRandStr(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		Log.Errorf("read rand failed. err=%+v", err)
	}
	for i := range b {
		b[i] = randCharset[int(b[i])%len(randCharset)]
	}
	return string(b)
}

// GenRandDigits 纯数字随机串，Subject 中的序号使用
func GenRandDigits(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		Log.Errorf("read rand failed. err=%+v", err)
	}
	for i := range b {
		b[i] = '0' + b[i]%10
	}
	return string(b)
}
