package storage

import (
	"github.com/stretchr/testify/mock"
)

// StoreMock lets tests drive KeyedArchive against a Store that fails in
// controlled ways (e.g. a disk or S3 backend down), without standing up
// a real DiskStore or S3 session.
type StoreMock struct {
	mock.Mock
}

func (s *StoreMock) Get(k Key) (Value, error) {
	arguments := s.Called(k)
	var ok bool
	b, ok := arguments.Get(0).(Value)
	if !ok {
		b = nil
	}
	return b, arguments.Error(1)
}

func (s *StoreMock) Put(k Key, v Value) error {
	return s.Called(k, v).Error(0)
}

func (s *StoreMock) Delete(k Key) error {
	return s.Called(k).Error(0)
}
