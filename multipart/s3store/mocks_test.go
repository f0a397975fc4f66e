package s3store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/mock"
)

type mockAPI struct {
	mock.Mock
}

func (_m *mockAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	ret := _m.Called(ctx, params)
	r0, _ := ret.Get(0).(*s3.PutObjectOutput)
	return r0, ret.Error(1)
}

func (_m *mockAPI) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	ret := _m.Called(ctx, params)

	var r0 *s3.UploadPartOutput
	if rf, ok := ret.Get(0).(func(context.Context, *s3.UploadPartInput) *s3.UploadPartOutput); ok {
		r0 = rf(ctx, params)
	} else {
		r0, _ = ret.Get(0).(*s3.UploadPartOutput)
	}
	return r0, ret.Error(1)
}

func (_m *mockAPI) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	ret := _m.Called(ctx, params)
	r0, _ := ret.Get(0).(*s3.CreateMultipartUploadOutput)
	return r0, ret.Error(1)
}

func (_m *mockAPI) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	ret := _m.Called(ctx, params)
	r0, _ := ret.Get(0).(*s3.CompleteMultipartUploadOutput)
	return r0, ret.Error(1)
}

func (_m *mockAPI) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	ret := _m.Called(ctx, params)
	r0, _ := ret.Get(0).(*s3.AbortMultipartUploadOutput)
	return r0, ret.Error(1)
}
