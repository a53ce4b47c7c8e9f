// Package mocks provides gomock implementations of the SDK's pluggable
// interfaces.
//
// To regenerate after an interface change, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), rbs.StoreKey).Return(nil, securestore.ErrNotFound)
package mocks

// Generate MockStore for the securestore.Store interface: Get, Set, Delete.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=store_mock.go github.com/aussiebroadwan/rbs/pkg/securestore Store
