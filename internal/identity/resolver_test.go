package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/N1kunj1998/FastCaption/internal/model"
	"github.com/N1kunj1998/FastCaption/internal/repository"
)

// --- インメモリフェイク ---

// fakeUserRepo はUserRepositoryのインメモリ実装。
// 競合注入用のフックを持ち、呼び出し履歴を記録する。
type fakeUserRepo struct {
	users []*model.User

	// 競合注入フック（設定時はデフォルト動作の前に呼ばれる）
	createFn      func(ctx context.Context, user *model.User) error
	attachEmailFn func(ctx context.Context, userID, email string, name *string) error

	mergeCalls       []string // "keeper<-dup" 形式の履歴
	addProviderCalls int
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	group, _ := f.FindAllByEmail(ctx, email)
	if len(group) == 0 {
		return nil, nil
	}
	return group[0], nil
}

func (f *fakeUserRepo) FindAllByEmail(ctx context.Context, email string) ([]*model.User, error) {
	var group []*model.User
	for _, u := range f.users {
		if u.Email != nil && *u.Email == email {
			group = append(group, u)
		}
	}
	sort.Slice(group, func(i, j int) bool {
		return group[i].CreatedAt.Before(group[j].CreatedAt)
	})
	return group, nil
}

func (f *fakeUserRepo) FindByProvider(ctx context.Context, provider, providerSub string) (*model.User, error) {
	ref := model.ProviderRef{Provider: provider, ProviderSub: providerSub}
	for _, u := range f.users {
		if u.HasProvider(ref) {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, user); err != nil {
			return err
		}
	}
	if user.Email != nil {
		if existing, _ := f.FindByEmail(ctx, *user.Email); existing != nil {
			return repository.ErrEmailConflict
		}
	}
	for _, ref := range user.Providers {
		if existing, _ := f.FindByProvider(ctx, ref.Provider, ref.ProviderSub); existing != nil {
			return repository.ErrProviderConflict
		}
	}
	f.users = append(f.users, user)
	return nil
}

func (f *fakeUserRepo) AddProvider(ctx context.Context, userID string, ref model.ProviderRef, name *string) error {
	f.addProviderCalls++
	for _, u := range f.users {
		if u.ID == userID {
			if !u.HasProvider(ref) {
				u.Providers = append(u.Providers, ref)
			}
			if name != nil {
				u.Name = name
			}
			return nil
		}
	}
	return fmt.Errorf("user not found: %s", userID)
}

func (f *fakeUserRepo) AttachEmail(ctx context.Context, userID, email string, name *string) error {
	if f.attachEmailFn != nil {
		if err := f.attachEmailFn(ctx, userID, email, name); err != nil {
			return err
		}
	}
	for _, u := range f.users {
		if u.ID == userID {
			u.Email = &email
			if name != nil {
				u.Name = name
			}
			return nil
		}
	}
	return fmt.Errorf("user not found: %s", userID)
}

func (f *fakeUserRepo) MergeInto(ctx context.Context, keeperID, dupID string) error {
	f.mergeCalls = append(f.mergeCalls, keeperID+"<-"+dupID)

	var keeper, dup *model.User
	for _, u := range f.users {
		if u.ID == keeperID {
			keeper = u
		}
		if u.ID == dupID {
			dup = u
		}
	}
	if keeper == nil || dup == nil {
		return fmt.Errorf("merge target not found")
	}
	for _, ref := range dup.Providers {
		if !keeper.HasProvider(ref) {
			keeper.Providers = append(keeper.Providers, ref)
		}
	}
	if keeper.Name == nil && dup.Name != nil {
		keeper.Name = dup.Name
	}

	kept := f.users[:0]
	for _, u := range f.users {
		if u.ID != dupID {
			kept = append(kept, u)
		}
	}
	f.users = kept
	return nil
}

func (f *fakeUserRepo) ListDuplicateEmails(ctx context.Context) ([]string, error) {
	counts := map[string]int{}
	for _, u := range f.users {
		if u.Email != nil {
			counts[*u.Email]++
		}
	}
	var emails []string
	for email, n := range counts {
		if n > 1 {
			emails = append(emails, email)
		}
	}
	sort.Strings(emails)
	return emails, nil
}

func (f *fakeUserRepo) EnsureEmailUniqueIndex(ctx context.Context) error {
	return nil
}

// addUser はテストデータを直接投入する。
func (f *fakeUserRepo) addUser(id string, email *string, createdAt time.Time, refs ...model.ProviderRef) *model.User {
	u := &model.User{
		ID:        id,
		Email:     email,
		Providers: refs,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	f.users = append(f.users, u)
	return u
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestResolve_MalformedInput(t *testing.T) {
	r := NewResolver(&fakeUserRepo{})

	if _, err := r.Resolve(context.Background(), "", "sub-1", "", ""); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("provider欠落でErrMalformedInputが返るべき: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "apple", "", "", ""); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("providerSub欠落でErrMalformedInputが返るべき: %v", err)
	}
}

func TestResolve_DegradedMode(t *testing.T) {
	// ストア未設定でも導出IDだけは返る
	r := NewResolver(nil)

	id, err := r.Resolve(context.Background(), "apple", "sub-1", "User@Example.com ", "")
	if err != nil {
		t.Fatalf("縮退モードでエラーが返るべきでない: %v", err)
	}
	if id != "user@example.com" {
		t.Errorf("正規化済みemailが正規IDになるべき: got %q", id)
	}

	id, err = r.Resolve(context.Background(), "apple", "sub-1", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "apple:sub-1" {
		t.Errorf("email無しは provider:sub が正規IDになるべき: got %q", id)
	}
}

func TestResolve_CreatesNewUserWithEmail(t *testing.T) {
	repo := &fakeUserRepo{}
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "google", "g-1", "New@Example.com", "New User")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "new@example.com" {
		t.Errorf("canonical id = %q, want new@example.com", id)
	}
	if len(repo.users) != 1 {
		t.Fatalf("ユーザーが1件作成されるべき: got %d", len(repo.users))
	}
	u := repo.users[0]
	if u.Email == nil || *u.Email != "new@example.com" {
		t.Errorf("emailは正規化して保存されるべき: %v", u.Email)
	}
	if !u.HasProvider(model.ProviderRef{Provider: "google", ProviderSub: "g-1"}) {
		t.Error("providerペアがリンクされるべき")
	}
}

func TestResolve_ExistingProviderWithoutEmail(t *testing.T) {
	// Appleメール非公開の再サインイン: providerペアで既存レコードを発見し、
	// そのレコードのemailが正規IDになる
	repo := &fakeUserRepo{}
	repo.addUser("u1", strPtr("known@example.com"), time.Now(),
		model.ProviderRef{Provider: "apple", ProviderSub: "a-1"})
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "apple", "a-1", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "known@example.com" {
		t.Errorf("既存レコードのemailが正規IDになるべき: got %q", id)
	}
	if len(repo.users) != 1 {
		t.Errorf("新規作成されるべきでない: %d users", len(repo.users))
	}
}

func TestResolve_NewUserWithoutEmail(t *testing.T) {
	repo := &fakeUserRepo{}
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "apple", "a-9", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "apple:a-9" {
		t.Errorf("canonical id = %q, want apple:a-9", id)
	}
	if len(repo.users) != 1 {
		t.Fatalf("ユーザーが作成されるべき")
	}
	if repo.users[0].Email != nil {
		t.Error("emailはnilのまま保存されるべき")
	}
}

func TestResolve_LinksSecondProviderToEmailOwner(t *testing.T) {
	// Appleで作られたアカウントに同じemailのGoogleサインインが届くケース。
	// 新規作成ではなく既存アカウントへのリンクになる。
	repo := &fakeUserRepo{}
	repo.addUser("u1", strPtr("shared@example.com"), time.Now(),
		model.ProviderRef{Provider: "apple", ProviderSub: "a-1"})
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "google", "g-1", "shared@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "shared@example.com" {
		t.Errorf("canonical id = %q", id)
	}
	if len(repo.users) != 1 {
		t.Fatalf("アカウントは1つのまま: got %d", len(repo.users))
	}
	u := repo.users[0]
	if !u.HasProvider(model.ProviderRef{Provider: "google", ProviderSub: "g-1"}) {
		t.Error("Googleのproviderペアがリンクされるべき")
	}
	if !u.HasProvider(model.ProviderRef{Provider: "apple", ProviderSub: "a-1"}) {
		t.Error("既存のAppleリンクは保持されるべき")
	}
}

func TestResolve_AttachesEmailToProviderOnlyUser(t *testing.T) {
	// email無しで作られたアカウントが後からemailを検証済みで提示したケース
	repo := &fakeUserRepo{}
	repo.addUser("u1", nil, time.Now(),
		model.ProviderRef{Provider: "apple", ProviderSub: "a-1"})
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "apple", "a-1", "late@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "late@example.com" {
		t.Errorf("canonical id = %q", id)
	}
	if repo.users[0].Email == nil || *repo.users[0].Email != "late@example.com" {
		t.Error("emailが既存レコードへ付与されるべき")
	}
}

func TestResolve_MergesDuplicatesOldestWins(t *testing.T) {
	// 一意インデックス導入前に生まれた同一emailの重複。
	// created_at最古がkeeperになり、providerリンクは失われない。
	repo := &fakeUserRepo{}
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	repo.addUser("u-new", strPtr("dup@example.com"), newer,
		model.ProviderRef{Provider: "google", ProviderSub: "g-1"})
	repo.addUser("u-old", strPtr("dup@example.com"), older,
		model.ProviderRef{Provider: "apple", ProviderSub: "a-1"})
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "apple", "a-2", "dup@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "dup@example.com" {
		t.Errorf("canonical id = %q", id)
	}
	if len(repo.users) != 1 {
		t.Fatalf("統合後は1アカウントになるべき: got %d", len(repo.users))
	}
	keeper := repo.users[0]
	if keeper.ID != "u-old" {
		t.Errorf("最古のレコードがkeeperになるべき: got %s", keeper.ID)
	}
	for _, ref := range []model.ProviderRef{
		{Provider: "apple", ProviderSub: "a-1"},
		{Provider: "google", ProviderSub: "g-1"},
		{Provider: "apple", ProviderSub: "a-2"},
	} {
		if !keeper.HasProvider(ref) {
			t.Errorf("providerリンクが失われている: %+v", ref)
		}
	}
}

func TestResolve_RecoversFromInsertRace(t *testing.T) {
	// 並行サインインとの挿入競合: Createが一意制約違反で敗れた後、
	// 勝者のレコードを読み直してリンクする。エラーにならない。
	repo := &fakeUserRepo{}
	raced := false
	repo.createFn = func(ctx context.Context, user *model.User) error {
		if !raced {
			raced = true
			// 勝者レコードを競合相手として先に挿入する
			repo.addUser("winner", strPtr("race@example.com"), time.Now(),
				model.ProviderRef{Provider: "google", ProviderSub: "g-other"})
			return repository.ErrEmailConflict
		}
		return nil
	}
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "apple", "a-1", "race@example.com", "")
	if err != nil {
		t.Fatalf("競合は回復されるべき: %v", err)
	}
	if id != "race@example.com" {
		t.Errorf("canonical id = %q", id)
	}
	if len(repo.users) != 1 {
		t.Fatalf("勝者レコード1件だけが残るべき: got %d", len(repo.users))
	}
	if !repo.users[0].HasProvider(model.ProviderRef{Provider: "apple", ProviderSub: "a-1"}) {
		t.Error("敗者のproviderペアが勝者へリンクされるべき")
	}
}

func TestResolve_ProviderRaceWithoutEmail(t *testing.T) {
	// email無しサインインの並行作成競合
	repo := &fakeUserRepo{}
	raced := false
	repo.createFn = func(ctx context.Context, user *model.User) error {
		if !raced {
			raced = true
			repo.addUser("winner", strPtr("w@example.com"), time.Now(),
				model.ProviderRef{Provider: "apple", ProviderSub: "a-1"})
			return repository.ErrProviderConflict
		}
		return nil
	}
	r := NewResolver(repo)

	id, err := r.Resolve(context.Background(), "apple", "a-1", "", "")
	if err != nil {
		t.Fatalf("競合は回復されるべき: %v", err)
	}
	if id != "w@example.com" {
		t.Errorf("勝者の正規IDが返るべき: got %q", id)
	}
}

func TestResolve_StableAcrossRepeatedSignIns(t *testing.T) {
	// 同じアイデンティティで何度サインインしても正規IDは変わらない
	repo := &fakeUserRepo{}
	r := NewResolver(repo)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "google", "g-1", "stable@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ctx, "google", "g-1", "stable@example.com", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != first {
			t.Errorf("正規IDが揺れている: %q != %q", got, first)
		}
	}
	if len(repo.users) != 1 {
		t.Errorf("アカウントは1つのまま: got %d", len(repo.users))
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  padded@example.com  ", "padded@example.com"},
		{"   ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
