// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderRef は外部IdPが主張する1つのアイデンティティ（provider + subject）を表す。
// 同一の(Provider, ProviderSub)ペアはシステム全体で高々1つのユーザーにのみ属する。
type ProviderRef struct {
	Provider    string
	ProviderSub string
}

// User はサービス利用アカウントを表す。
// Emailは任意（Appleのメール非公開サインイン等でnilになり得る）。
// 存在する場合は正規化済み（小文字・trim済み）で、全ユーザー間で一意。
type User struct {
	ID        string
	Email     *string
	Name      *string
	Providers []ProviderRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasProvider は指定のproviderペアが既にリンク済みかを返す。
func (u *User) HasProvider(ref ProviderRef) bool {
	for _, p := range u.Providers {
		if p == ref {
			return true
		}
	}
	return false
}

// CanonicalID はこのアカウントの正規ユーザーIDを返す。
// Emailがあればそれを、なければ最初のproviderから "provider:sub" を導出する。
// JWTとtrialレコードはこの値をキーとして使う。
func (u *User) CanonicalID() string {
	if u.Email != nil && *u.Email != "" {
		return *u.Email
	}
	if len(u.Providers) > 0 {
		return CanonicalProviderID(u.Providers[0].Provider, u.Providers[0].ProviderSub)
	}
	return u.ID
}

// CanonicalProviderID はEmail不明のアカウントの正規ユーザーID "provider:sub" を組み立てる。
func CanonicalProviderID(provider, providerSub string) string {
	return provider + ":" + providerSub
}
