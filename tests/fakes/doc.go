// Package fakes provides test doubles for the AWS SDK clients cosrepo talks to.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior. Every fake keeps its state in plain maps and exposes
// optional Func fields that override the default behavior of a call.
//
// Usage:
//
//	s3 := fakes.NewFakeS3Client()
//	s3.AddBucket("snapshots-1250000000")
//	client := cosclient.NewWithAPI(settings, s3)
//	// Test blob operations...
package fakes
