// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

// modelPrice is dollars per million tokens.
type modelPrice struct {
	InputPerM  float64
	OutputPerM float64
}

// priceTable is a published reference table (spec §4.2 "cost is attributed
// per call via a published price table"). Prices drift; a model missing
// here is not an error, see Price below.
var priceTable = map[string]modelPrice{
	"claude-opus-4-20250514":     {InputPerM: 15.00, OutputPerM: 75.00},
	"claude-sonnet-4-20250514":   {InputPerM: 3.00, OutputPerM: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerM: 0.80, OutputPerM: 4.00},
	"gpt-4o":                     {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4o-mini":                {InputPerM: 0.15, OutputPerM: 0.60},
	"gemini-2.0-flash":           {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.5-pro":             {InputPerM: 1.25, OutputPerM: 10.00},
}

// Price returns the dollar cost of a call, and whether the model was found
// in the price table. A missing model yields (0, false): the caller must
// still succeed (spec §4.2 "if a model is missing from the table the call
// succeeds with cost=unknown, never fails").
func Price(model string, usage Usage) (float64, bool) {
	p, ok := priceTable[model]
	if !ok {
		return 0, false
	}
	cost := float64(usage.InputTokens)/1_000_000*p.InputPerM + float64(usage.OutputTokens)/1_000_000*p.OutputPerM
	return cost, true
}
