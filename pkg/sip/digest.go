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
	"strings"

	"github.com/q191201771/naza/pkg/nazamd5"
)

const (
	AuthTypeDigest = "Digest"
	AuthAlgorithm  = "MD5"
	AuthQopAuth    = "auth"
)

// Authorization 设备 REGISTER 时携带的 Authorization 头
type Authorization struct {
	Username  string
	Realm     string
	Nonce     string
	Uri       string
	Response  string
	Algorithm string
	Qop       string
	Nc        string
	Cnonce    string
}

// ParseAuthorization
//
// e.g. Digest username="34020000001320000001", realm="3402000000", nonce="44010b73623249f6",
//      uri="sip:34020000002000000001@3402000000", response="e4ca3fdc5869fa1c544ea7af60014444", algorithm=MD5
//
// 值可以带引号也可以不带
//
func ParseAuthorization(v string) (Authorization, bool) {
	var a Authorization
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, AuthTypeDigest) {
		return a, false
	}
	for k, val := range parseAuthParams(v[len(AuthTypeDigest):]) {
		switch strings.ToLower(k) {
		case "username":
			a.Username = val
		case "realm":
			a.Realm = val
		case "nonce":
			a.Nonce = val
		case "uri":
			a.Uri = val
		case "response":
			a.Response = val
		case "algorithm":
			a.Algorithm = val
		case "qop":
			a.Qop = val
		case "nc":
			a.Nc = val
		case "cnonce":
			a.Cnonce = val
		}
	}
	if a.Username == "" || a.Nonce == "" || a.Response == "" {
		return a, false
	}
	return a, true
}

// Valid 用密码重新计算 response 并比较
func (a *Authorization) Valid(method string, password string) bool {
	if a.Algorithm != "" && !strings.EqualFold(a.Algorithm, AuthAlgorithm) {
		Log.Warnf("digest algorithm not support. algorithm=%s", a.Algorithm)
		return false
	}
	return strings.EqualFold(a.calcResponse(method, password), a.Response)
}

// MakeAuthorization 设备侧使用，给定 401 中的 realm 和 nonce 生成 Authorization 头的值
func MakeAuthorization(username, password, realm, nonce, method, uri string) string {
	a := Authorization{
		Username:  username,
		Realm:     realm,
		Nonce:     nonce,
		Uri:       uri,
		Algorithm: AuthAlgorithm,
	}
	a.Response = a.calcResponse(method, password)
	return fmt.Sprintf(`%s username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=%s`,
		AuthTypeDigest, a.Username, a.Realm, a.Nonce, a.Uri, a.Response, a.Algorithm)
}

func BuildWwwAuthenticate(realm, nonce string) string {
	return fmt.Sprintf(`%s realm="%s", nonce="%s", algorithm=%s`, AuthTypeDigest, realm, nonce, AuthAlgorithm)
}

func (a *Authorization) calcResponse(method, password string) string {
	ha1 := nazamd5.Md5([]byte(fmt.Sprintf("%s:%s:%s", a.Username, a.Realm, password)))
	ha2 := nazamd5.Md5([]byte(fmt.Sprintf("%s:%s", method, a.Uri)))
	if a.Qop == AuthQopAuth {
		return nazamd5.Md5([]byte(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, a.Nonce, a.Nc, a.Cnonce, a.Qop, ha2)))
	}
	return nazamd5.Md5([]byte(fmt.Sprintf("%s:%s:%s", ha1, a.Nonce, ha2)))
}

// parseAuthParams 逗号分隔的 k=v 列表，引号内的逗号不切分
func parseAuthParams(s string) map[string]string {
	ret := make(map[string]string)
	var (
		item    strings.Builder
		inQuote bool
	)
	flush := func() {
		kv := strings.TrimSpace(item.String())
		item.Reset()
		idx := strings.IndexByte(kv, '=')
		if idx <= 0 {
			return
		}
		ret[strings.TrimSpace(kv[:idx])] = strings.Trim(strings.TrimSpace(kv[idx+1:]), `"`)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			item.WriteByte(c)
		case c == ',' && !inQuote:
			flush()
		default:
			item.WriteByte(c)
		}
	}
	flush()
	return ret
}
