// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "math"

// SplitBatches splits payload into an ordered sequence of slices of length
// batchBodySize, except possibly the last. The returned slices alias
// payload; callers that hand them to EncodeBatch and then retain the
// encoded frame (the retransmit cache) are fine because EncodeBatch copies.
//
// Grounded on original_source/src/udp/message_batch_creator.rs
// (MessageBatchCreator::break_message): same ceil-division batch count and
// the same u32 overflow guard.
func SplitBatches(payload []byte, batchBodySize int) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	totalBatches := (len(payload) + batchBodySize - 1) / batchBodySize
	if uint64(totalBatches) > math.MaxUint32 {
		return nil, ErrTooManyBatches
	}
	batches := make([][]byte, 0, totalBatches)
	for i := 0; i < totalBatches; i++ {
		start := i * batchBodySize
		end := start + batchBodySize
		if end > len(payload) {
			end = len(payload)
		}
		batches = append(batches, payload[start:end])
	}
	return batches, nil
}
