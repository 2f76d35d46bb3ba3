/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package interception

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/ciphertext"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/metrics"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
)

// EngineProvider returns the current Engine client. The interceptor calls it
// on every invocation so endpoint swaps take effect within one call.
type EngineProvider func() *engine.Client

// Options configures an Interceptor
type Options struct {
	Resolver *policy.Resolver
	Engine   EngineProvider

	// Manifest optionally declares entity metadata for untagged host types
	Manifest *Manifest

	DatasourceID string

	BatchMinSize  int
	BatchMaxSize  int
	BatchDisabled bool

	// FallbackToOriginal returns the untransformed value instead of an
	// error when the Engine is unreachable
	FallbackToOriginal bool

	Logger *zap.Logger
}

// Interceptor transforms entity fields around host data-access calls
type Interceptor struct {
	resolver     *policy.Resolver
	engineOf     EngineProvider
	registry     *Registry
	datasourceID string
	batchMin     int
	batchMax     int
	batchOff     bool
	fallback     bool
	logger       *zap.Logger
}

// NewInterceptor creates an interceptor
func NewInterceptor(opts Options) *Interceptor {
	batchMin := opts.BatchMinSize
	if batchMin < 1 {
		batchMin = constants.DefaultBatchMinSize
	}
	batchMax := opts.BatchMaxSize
	if batchMax < batchMin {
		batchMax = constants.DefaultBatchMaxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{
		resolver:     opts.Resolver,
		engineOf:     opts.Engine,
		registry:     NewRegistry(opts.Manifest),
		datasourceID: opts.DatasourceID,
		batchMin:     batchMin,
		batchMax:     batchMax,
		batchOff:     opts.BatchDisabled,
		fallback:     opts.FallbackToOriginal,
		logger:       logger,
	}
}

// target is one string slot scheduled for transformation
type target struct {
	fd       FieldDescriptor
	slot     reflect.Value // the struct field, addressable
	original string
	policy   string
	written  bool
}

func (t *target) write(s string) {
	if t.fd.Pointer {
		t.slot.Set(reflect.ValueOf(&s))
	} else {
		t.slot.SetString(s)
	}
	t.written = true
}

func (t *target) rewind() {
	if !t.written {
		return
	}
	orig := t.original
	if t.fd.Pointer {
		t.slot.Set(reflect.ValueOf(&orig))
	} else {
		t.slot.SetString(orig)
	}
	t.written = false
}

func rewindAll(targets []*target) {
	for _, t := range targets {
		t.rewind()
	}
}

// maskFor resolves the mask policy for a target: field attribute first,
// then the method-level default.
func (t *target) maskFor(inv *Invocation) (name, uid string) {
	if t.fd.MaskPolicyName != "" {
		return t.fd.MaskPolicyName, t.fd.MaskPolicyUID
	}
	return inv.MaskPolicyName, inv.MaskPolicyUID
}

// collect gathers the transformable string slots of one entity value.
// forEncrypt skips values already recognized as ciphertext.
func (ic *Interceptor) collect(structVal reflect.Value, inv *Invocation, forEncrypt bool) []*target {
	desc := ic.registry.Describe(structVal.Type())
	if desc == nil {
		return nil
	}

	var targets []*target
	for _, fd := range desc.Targets(inv) {
		slot := structVal.Field(fd.Index)
		var value string
		if fd.Pointer {
			if slot.IsNil() {
				continue
			}
			value = slot.Elem().String()
		} else {
			value = slot.String()
		}
		if value == "" {
			continue
		}
		if forEncrypt && ciphertext.IsCiphertext(value) {
			continue
		}

		// A marked field without a mapping is not protected yet; the Hub
		// decides when policy attaches, not the annotation.
		policyName, ok := ic.resolver.Resolve(ic.datasourceID, desc.Schema, desc.Table, fd.Column)
		if !ok && forEncrypt {
			continue
		}
		targets = append(targets, &target{
			fd:       fd,
			slot:     slot,
			original: value,
			policy:   policyName,
		})
	}
	return targets
}

// engine returns the current Engine client or an error when none is bound
func (ic *Interceptor) engine() (*engine.Client, error) {
	if ic.engineOf != nil {
		if ec := ic.engineOf(); ec != nil {
			return ec, nil
		}
	}
	return nil, fmt.Errorf("no crypto endpoint bound")
}

// OnEncryptCall transforms the invocation argument before a write. The
// argument may be a single entity, a slice or array of entities, or a plain
// string. Unrecognized argument kinds pass through untouched.
func (ic *Interceptor) OnEncryptCall(ctx context.Context, inv *Invocation) (any, error) {
	arg := inv.Argument
	if arg == nil {
		return nil, nil
	}

	if s, ok := arg.(string); ok {
		if inv.Kind != KindRepository {
			return arg, nil
		}
		return ic.encryptString(ctx, s)
	}

	elems, finish, ok := explodeWrite(arg)
	if !ok {
		return arg, nil
	}

	var targets []*target
	for _, elem := range elems {
		targets = append(targets, ic.collect(elem, inv, true)...)
	}
	if len(targets) == 0 {
		return finish(), nil
	}

	ec, err := ic.engine()
	if err != nil {
		return ic.recover(arg, targets, err)
	}

	if err := ic.encryptTargets(ctx, ec, inv, targets); err != nil {
		return ic.recover(arg, targets, err)
	}
	return finish(), nil
}

// encryptString encrypts a bare repository string argument
func (ic *Interceptor) encryptString(ctx context.Context, s string) (any, error) {
	if s == "" || ciphertext.IsCiphertext(s) {
		return s, nil
	}
	ec, err := ic.engine()
	if err != nil {
		return ic.recoverValue(s, err)
	}
	out, err := ec.Encrypt(ctx, s, "", false)
	if err != nil {
		return ic.recoverValue(s, err)
	}
	metrics.ValuesTransformedTotal.WithLabelValues("encrypt", "single").Inc()
	return out, nil
}

// encryptTargets groups targets by (field, policy) and encrypts each group,
// batching groups that clear the minimum.
func (ic *Interceptor) encryptTargets(ctx context.Context, ec *engine.Client, inv *Invocation, targets []*target) error {
	groups := make(map[string][]*target)
	var order []string
	for _, t := range targets {
		key := t.fd.Name + "\x00" + t.policy
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	for _, key := range order {
		group := groups[key]
		if ic.batchOff || len(group) < ic.batchMin {
			if err := ic.encryptIndividually(ctx, ec, group); err != nil {
				return err
			}
			continue
		}
		if err := ic.encryptBatched(ctx, ec, group); err != nil {
			return err
		}
	}
	return nil
}

func (ic *Interceptor) encryptIndividually(ctx context.Context, ec *engine.Client, group []*target) error {
	for _, t := range group {
		attrs := ic.resolver.GetAttributes(t.policy)
		out, err := ec.Encrypt(ctx, t.original, t.policy, !attrs.UseIV)
		if err != nil {
			return err
		}
		t.write(out)
		metrics.ValuesTransformedTotal.WithLabelValues("encrypt", "single").Inc()
	}
	return nil
}

func (ic *Interceptor) encryptBatched(ctx context.Context, ec *engine.Client, group []*target) error {
	for start := 0; start < len(group); start += ic.batchMax {
		end := start + ic.batchMax
		if end > len(group) {
			end = len(group)
		}
		chunk := group[start:end]

		items := make([]engine.BatchEncryptItem, len(chunk))
		for i, t := range chunk {
			items[i] = engine.BatchEncryptItem{Data: t.original, PolicyName: t.policy}
		}
		results, err := ec.EncryptBatch(ctx, items)
		if err != nil {
			return err
		}
		for i, res := range results {
			if !res.Success {
				ic.logger.Warn("Batch encrypt item rejected, keeping original value",
					zap.String("field", chunk[i].fd.Name))
				continue
			}
			chunk[i].write(res.Data)
		}
		metrics.ValuesTransformedTotal.WithLabelValues("encrypt", "batch").Add(float64(len(chunk)))
	}
	return nil
}

// OnDecryptCall proceeds with the underlying call, quarantines the returned
// entities from the host session, and decrypts their protected fields.
func (ic *Interceptor) OnDecryptCall(ctx context.Context, inv *Invocation) (any, error) {
	result, err := inv.Proceed(ctx)
	if err != nil || result == nil {
		return result, err
	}

	norm, ok := normalizeRead(result)
	if !ok {
		return result, nil
	}

	// Detach before any mutation so nothing can flush back
	for _, entity := range norm.entities {
		inv.Hooks.detach(entity)
	}

	var targets []*target
	for _, elem := range norm.elems {
		targets = append(targets, ic.collect(elem, inv, false)...)
	}
	if len(targets) == 0 {
		return norm.rewrap(), nil
	}

	ec, err := ic.engine()
	if err != nil {
		rewindAll(targets)
		if ic.fallback {
			ic.logger.Warn("No crypto endpoint bound, returning original values")
			return norm.rewrap(), nil
		}
		return norm.rewrap(), err
	}

	if err := ic.decryptTargets(ctx, ec, inv, targets); err != nil {
		rewindAll(targets)
		if ic.fallback {
			ic.logger.Warn("Decrypt failed, returning original values", zap.Error(err))
			return norm.rewrap(), nil
		}
		return norm.rewrap(), err
	}
	return norm.rewrap(), nil
}

// decryptTargets decrypts the flat target list, batching when it clears the
// minimum. Sentinel responses leave the original value untouched.
func (ic *Interceptor) decryptTargets(ctx context.Context, ec *engine.Client, inv *Invocation, targets []*target) error {
	if ic.batchOff || len(targets) < ic.batchMin {
		for _, t := range targets {
			maskName, maskUID := t.maskFor(inv)
			res, err := ec.Decrypt(ctx, t.original, engine.DecryptOptions{
				PolicyName:     t.policy,
				MaskPolicyName: maskName,
				MaskPolicyUID:  maskUID,
			})
			if err != nil {
				return err
			}
			if res.NotEncrypted {
				metrics.SentinelHitsTotal.Inc()
				continue
			}
			t.write(res.Data)
			metrics.ValuesTransformedTotal.WithLabelValues("decrypt", "single").Inc()
		}
		return nil
	}

	for start := 0; start < len(targets); start += ic.batchMax {
		end := start + ic.batchMax
		if end > len(targets) {
			end = len(targets)
		}
		chunk := targets[start:end]

		items := make([]engine.BatchDecryptItem, len(chunk))
		for i, t := range chunk {
			maskName, maskUID := t.maskFor(inv)
			items[i] = engine.BatchDecryptItem{
				Data:           t.original,
				MaskPolicyName: maskName,
				MaskPolicyUID:  maskUID,
			}
		}
		results, err := ec.DecryptBatch(ctx, items)
		if err != nil {
			return err
		}
		for i, res := range results {
			switch {
			case res.NotEncrypted:
				metrics.SentinelHitsTotal.Inc()
			case res.Success || res.Data != "":
				// A failed result carrying data is an applied mask
				chunk[i].write(res.Data)
			}
		}
		metrics.ValuesTransformedTotal.WithLabelValues("decrypt", "batch").Add(float64(len(chunk)))
	}
	return nil
}

// recover implements the write-path fallback: rewind partial work and either
// return the original argument or surface the error.
func (ic *Interceptor) recover(arg any, targets []*target, err error) (any, error) {
	rewindAll(targets)
	if ic.fallback {
		ic.logger.Warn("Encrypt failed, passing original values through", zap.Error(err))
		return arg, nil
	}
	return arg, err
}

func (ic *Interceptor) recoverValue(s string, err error) (any, error) {
	if ic.fallback {
		ic.logger.Warn("Encrypt failed, passing original value through", zap.Error(err))
		return s, nil
	}
	return s, err
}
