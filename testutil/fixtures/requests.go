// Package fixtures 提供测试用的 Token 与 Request 样例。
package fixtures

import (
	"strconv"
	"time"

	"github.com/fgan1/fogbow-manager/request"
	"github.com/fgan1/fogbow-manager/types"
)

// Token 返回 user 的 token，expiresIn 后过期
func Token(accessID, user string, now time.Time, expiresIn time.Duration) *types.Token {
	return &types.Token{
		AccessID:  accessID,
		User:      user,
		ExpiresAt: now.Add(expiresIn),
	}
}

// SmallFlavor 返回 small 规格的类别
func SmallFlavor() []request.Category {
	return []request.Category{{Term: "small", Scheme: "http://schemas.fogbowcloud.org/template/resource#", Class: "mixin"}}
}

// Attributes 构造请求属性
func Attributes(count int, typ request.Type) map[string]string {
	attrs := map[string]string{
		request.AttrType: string(typ),
	}
	if count > 0 {
		attrs[request.AttrInstanceCount] = strconv.Itoa(count)
	}
	return attrs
}

// OpenRequest 构造一个 OPEN 请求
func OpenRequest(id string, token *types.Token, typ request.Type, now time.Time) *request.Request {
	req, err := request.New(id, token, SmallFlavor(), Attributes(1, typ), now)
	if err != nil {
		panic(err)
	}
	return req
}
