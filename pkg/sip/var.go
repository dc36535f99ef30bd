// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package sip GB28181 使用的 SIP 文本协议的解析与构造
//
// 只实现国标信令需要的子集：请求行/状态行、头部、Content-Length 定长的包体。
//
package sip

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

const (
	Version = "SIP/2.0"

	// MaxHeaderSize 流式传输时头部的最大长度，超过后丢弃缓存
	MaxHeaderSize = 8192

	// MaxMessageSize 单条消息的最大长度，同时也是 udp 单包的上限
	MaxMessageSize = 65535

	ContentTypeManscdp = "Application/MANSCDP+xml"
	ContentTypeSdp     = "application/sdp"

	BranchMagicCookie = "z9hG4bK"

	DefaultMaxForwards = 70
)

const (
	HeaderVia             = "Via"
	HeaderRecordRoute     = "Record-Route"
	HeaderFrom            = "From"
	HeaderTo              = "To"
	HeaderCallId          = "Call-ID"
	HeaderCSeq            = "CSeq"
	HeaderContact         = "Contact"
	HeaderMaxForwards     = "Max-Forwards"
	HeaderUserAgent       = "User-Agent"
	HeaderExpires         = "Expires"
	HeaderContentLength   = "Content-Length"
	HeaderContentType     = "Content-Type"
	HeaderSubject         = "Subject"
	HeaderWwwAuthenticate = "WWW-Authenticate"
	HeaderAuthorization   = "Authorization"
	HeaderDate            = "Date"
	HeaderEvent           = "Event"
	HeaderXSource         = "X-Source"
)

// dumpOrder 序列化时头部的固定顺序，不在其中的头部按添加顺序排在最后
var dumpOrder = []string{
	HeaderVia,
	HeaderRecordRoute,
	HeaderFrom,
	HeaderTo,
	HeaderCallId,
	HeaderCSeq,
	HeaderContact,
	HeaderMaxForwards,
	HeaderUserAgent,
	HeaderExpires,
	HeaderContentLength,
	HeaderContentType,
	HeaderSubject,
	HeaderWwwAuthenticate,
	HeaderAuthorization,
	HeaderDate,
	HeaderEvent,
	HeaderXSource,
}

// canonicalNames 小写头部名（含紧凑形式）到规范名
var canonicalNames = map[string]string{
	"via":              HeaderVia,
	"v":                HeaderVia,
	"record-route":     HeaderRecordRoute,
	"from":             HeaderFrom,
	"f":                HeaderFrom,
	"to":               HeaderTo,
	"t":                HeaderTo,
	"call-id":          HeaderCallId,
	"i":                HeaderCallId,
	"cseq":             HeaderCSeq,
	"contact":          HeaderContact,
	"m":                HeaderContact,
	"max-forwards":     HeaderMaxForwards,
	"user-agent":       HeaderUserAgent,
	"expires":          HeaderExpires,
	"content-length":   HeaderContentLength,
	"l":                HeaderContentLength,
	"content-type":     HeaderContentType,
	"c":                HeaderContentType,
	"subject":          HeaderSubject,
	"s":                HeaderSubject,
	"www-authenticate": HeaderWwwAuthenticate,
	"authorization":    HeaderAuthorization,
	"date":             HeaderDate,
	"event":            HeaderEvent,
	"o":                HeaderEvent,
	"x-source":         HeaderXSource,
}

var reasonPhrases = map[int]string{
	100: "Trying",
	180: "Ringing",
	200: "OK",
	202: "Accepted",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	481: "Call/Transaction Does Not Exist",
	486: "Busy Here",
	488: "Not Acceptable Here",
	500: "Server Internal Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}

func ReasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}
