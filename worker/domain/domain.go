// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package domain reads the output-domain shards of a job and produces the set of
// bucket keys used for the domain join and thresholding.
package domain

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/blobstore"
	"github.com/google/privacy-sandbox-aggregation-worker/protocol/avro"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/uint128"
)

// Processor streams the domain shards under a location and yields the deduplicated
// set of bucket keys.
type Processor interface {
	ReadAndDedupDomain(ctx context.Context, location blobstore.DataLocation) (map[uint128.Uint128]bool, error)
}

// readShards lists the shards and fans their parsing out, merging the parsed
// buckets into one set. Duplicates across shards are silently deduplicated.
func readShards(ctx context.Context, blob blobstore.Client, location blobstore.DataLocation, parallelism int,
	parseShard func(ctx context.Context, object string, emit func(uint128.Uint128)) error) (map[uint128.Uint128]bool, error) {
	shards, err := blob.ListBlobs(ctx, location.Bucket, location.Prefix)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no domain shards found for bucket %q and prefix %q", location.Bucket, location.Prefix)
	}

	var mu sync.Mutex
	buckets := make(map[uint128.Uint128]bool)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			return parseShard(ctx, shard, func(bucket uint128.Uint128) {
				mu.Lock()
				buckets[bucket] = true
				mu.Unlock()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buckets, nil
}

// AvroProcessor reads Avro output-domain shards.
type AvroProcessor struct {
	Blob        blobstore.Client
	Parallelism int
}

// NewAvroProcessor creates an Avro domain processor.
func NewAvroProcessor(blob blobstore.Client, parallelism int) *AvroProcessor {
	return &AvroProcessor{Blob: blob, Parallelism: parallelism}
}

// ReadAndDedupDomain reads all the Avro domain shards under the location.
func (p *AvroProcessor) ReadAndDedupDomain(ctx context.Context, location blobstore.DataLocation) (map[uint128.Uint128]bool, error) {
	return readShards(ctx, p.Blob, location, p.Parallelism, func(ctx context.Context, object string, emit func(uint128.Uint128)) error {
		reader, err := p.Blob.NewReader(ctx, location.Bucket, object)
		if err != nil {
			return err
		}
		defer reader.Close()

		domainReader, err := avro.NewOutputDomainReader(reader)
		if err != nil {
			return fmt.Errorf("opening domain shard %q: %v", object, err)
		}
		for domainReader.Next() {
			bucket, err := domainReader.Read()
			if err != nil {
				return fmt.Errorf("reading domain shard %q: %v", object, err)
			}
			emit(bucket)
		}
		return domainReader.Err()
	})
}

// TextProcessor reads text output-domain shards, one decimal bucket key per line.
type TextProcessor struct {
	Blob        blobstore.Client
	Parallelism int
}

// NewTextProcessor creates a text domain processor.
func NewTextProcessor(blob blobstore.Client, parallelism int) *TextProcessor {
	return &TextProcessor{Blob: blob, Parallelism: parallelism}
}

// ReadAndDedupDomain reads all the text domain shards under the location.
func (p *TextProcessor) ReadAndDedupDomain(ctx context.Context, location blobstore.DataLocation) (map[uint128.Uint128]bool, error) {
	return readShards(ctx, p.Blob, location, p.Parallelism, func(ctx context.Context, object string, emit func(uint128.Uint128)) error {
		reader, err := p.Blob.NewReader(ctx, location.Bucket, object)
		if err != nil {
			return err
		}
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			bucket, err := utils.StringToUint128(line)
			if err != nil {
				return fmt.Errorf("parsing domain shard %q: %v", object, err)
			}
			emit(bucket)
		}
		return scanner.Err()
	})
}
