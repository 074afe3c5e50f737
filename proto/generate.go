// Package proto holds the protobuf contract of the gRPC surface. The
// generated packages land under gen/proto and are not committed, same as
// gen/ent.
package proto

//go:generate protoc --proto_path=. --go_out=../gen/proto --go_opt=paths=source_relative --go-grpc_out=../gen/proto --go-grpc_opt=paths=source_relative labels/v1/labels.proto
