// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package sip

import (
	"fmt"
	"strconv"
	"strings"
)

// From/To/Contact 形如 `"name" <sip:34020000001320000001@192.168.1.2:5060;transport=udp>;tag=abc`

// UriOf 取出尖括号中的uri，没有尖括号时取第一个分号之前的部分
func UriOf(v string) string {
	v = strings.TrimSpace(v)
	if l := strings.IndexByte(v, '<'); l >= 0 {
		if r := strings.IndexByte(v[l:], '>'); r > 0 {
			return v[l+1 : l+r]
		}
	}
	if idx := strings.IndexByte(v, ';'); idx >= 0 {
		return v[:idx]
	}
	return v
}

// IdOf sip:<id>@host 中的 id
func IdOf(v string) string {
	uri := UriOf(v)
	s := strings.Index(uri, "sip:")
	if s < 0 {
		return ""
	}
	s += len("sip:")
	e := strings.IndexByte(uri[s:], '@')
	if e < 0 {
		return ""
	}
	return uri[s : s+e]
}

// HostPortOf 取出uri中的ip和端口，没有端口时返回0
func HostPortOf(v string) (string, int) {
	uri := UriOf(v)
	if idx := strings.Index(uri, "sip:"); idx >= 0 {
		uri = uri[idx+len("sip:"):]
	}
	if idx := strings.IndexByte(uri, '@'); idx >= 0 {
		uri = uri[idx+1:]
	}
	if idx := strings.IndexAny(uri, ";?>"); idx >= 0 {
		uri = uri[:idx]
	}
	idx := strings.LastIndexByte(uri, ':')
	if idx < 0 {
		return uri, 0
	}
	port, err := strconv.Atoi(uri[idx+1:])
	if err != nil {
		return uri[:idx], 0
	}
	return uri[:idx], port
}

// TagOf 取出 ;tag= 参数
func TagOf(v string) string {
	return paramOf(afterUri(v), "tag")
}

// WithTag 没有 tag 时追加，已有时保持不变
func WithTag(v string, tag string) string {
	if TagOf(v) != "" {
		return v
	}
	return v + ";tag=" + tag
}

func BuildUri(id string, ip string, port int) string {
	return fmt.Sprintf("sip:%s@%s:%d", id, ip, port)
}

// BuildAddr e.g. <sip:34020000002000000001@192.168.1.1:5060>
func BuildAddr(id string, ip string, port int) string {
	return "<" + BuildUri(id, ip, port) + ">"
}

// BuildFrom 带随机 tag 的 From
func BuildFrom(uri string) string {
	return "<" + uri + ">;tag=" + GenRandStr(16)
}

func BuildCSeq(num int, method Method) string {
	return strconv.Itoa(num) + " " + method.String()
}

// ---------------------------------------------------------------------------------------------------------------------

// Via e.g. SIP/2.0/UDP 192.168.1.2:5060;rport;branch=z9hG4bK123
type Via struct {
	Transport string
	Host      string
	Port      int
	Params    []HeaderField
}

func ParseVia(v string) (Via, bool) {
	var via Via
	v = strings.TrimSpace(v)
	sp := strings.IndexAny(v, " \t")
	if sp < 0 {
		return via, false
	}
	proto := v[:sp]
	items := strings.Split(proto, "/")
	if len(items) != 3 {
		return via, false
	}
	via.Transport = strings.ToUpper(items[2])

	rest := strings.TrimSpace(v[sp+1:])
	params := strings.Split(rest, ";")
	hostport := strings.TrimSpace(params[0])
	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
		via.Host = hostport[:idx]
		via.Port, _ = strconv.Atoi(hostport[idx+1:])
	} else {
		via.Host = hostport
	}
	for _, p := range params[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			via.Params = append(via.Params, HeaderField{Name: p[:idx], Value: p[idx+1:]})
		} else {
			via.Params = append(via.Params, HeaderField{Name: p})
		}
	}
	return via, true
}

func (v *Via) Param(name string) (string, bool) {
	for _, p := range v.Params {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

func (v *Via) Branch() string {
	b, _ := v.Param("branch")
	return b
}

func (v *Via) SetParam(name, value string) {
	for i := range v.Params {
		if strings.EqualFold(v.Params[i].Name, name) {
			v.Params[i].Value = value
			return
		}
	}
	v.Params = append(v.Params, HeaderField{Name: name, Value: value})
}

func (v *Via) String() string {
	var sb strings.Builder
	sb.WriteString(Version)
	sb.WriteString("/")
	sb.WriteString(v.Transport)
	sb.WriteString(" ")
	sb.WriteString(v.Host)
	if v.Port > 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(v.Port))
	}
	for _, p := range v.Params {
		sb.WriteString(";")
		sb.WriteString(p.Name)
		if p.Value != "" {
			sb.WriteString("=")
			sb.WriteString(p.Value)
		}
	}
	return sb.String()
}

// BuildVia e.g. SIP/2.0/UDP 192.168.1.1:5060;rport;branch=z9hG4bK...
func BuildVia(transport string, ip string, port int) string {
	v := Via{
		Transport: strings.ToUpper(transport),
		Host:      ip,
		Port:      port,
		Params: []HeaderField{
			{Name: "rport"},
			{Name: "branch", Value: BranchMagicCookie + GenRandStr(16)},
		},
	}
	return v.String()
}

// RewriteViaReceived 按实际收包地址补充 received 和 rport，udp 穿越 NAT 时应答需要按它回送
func RewriteViaReceived(v string, ip string, port int) string {
	via, ok := ParseVia(v)
	if !ok {
		return v
	}
	via.SetParam("received", ip)
	via.SetParam("rport", strconv.Itoa(port))
	return via.String()
}

// ---------------------------------------------------------------------------------------------------------------------

func afterUri(v string) string {
	if idx := strings.IndexByte(v, '>'); idx >= 0 {
		return v[idx+1:]
	}
	if idx := strings.IndexByte(v, ';'); idx >= 0 {
		return v[idx:]
	}
	return ""
}

func paramOf(params string, name string) string {
	for _, p := range strings.Split(params, ";") {
		p = strings.TrimSpace(p)
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			continue
		}
		if strings.EqualFold(p[:idx], name) {
			return strings.Trim(p[idx+1:], `"`)
		}
	}
	return ""
}
