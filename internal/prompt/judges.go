/*
Copyright 2026 Foundation 29

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Concrete judge templates. Each defines its fixed sections once; the built
// template is then reused across every item of a run.

package prompt

import (
	"fmt"
	"strings"
)

const severityMetaTemplate = "{intro}\n\nDifferential Diagnosis:\n{differential_diagnosis}\n\n{severity_levels}\n\n{json_format}"

const severityIntro = `You are a medical expert evaluating the severity of diseases in a differential diagnosis.
Please analyze the following differential diagnosis and evaluate the severity of each proposed disease.`

const severityDefaultLevels = `For each disease in the differential diagnosis, evaluate its severity based on the following criteria:
1. Mild: The disease generally has minor symptoms that do not significantly affect daily activities.
2. Moderate: The disease has noticeable symptoms requiring medical intervention but is not life-threatening.
3. Severe: The disease has serious symptoms that significantly impact health and may require hospitalization.
4. Critical: The disease is life-threatening and requires immediate medical intervention.

For each disease, consider its typical presentation, potential complications, and impact on the patient's quality of life.`

// Section content is inserted verbatim at build time and never re-parsed,
// so the JSON example below uses plain braces.
const severityJSONFormat = `Please structure your response as a JSON object with the following format:
` + "```json" + `
{
  "severity_evaluations": [
    {
      "disease": "Disease name",
      "rank": 1,
      "severity": "mild|moderate|severe|critical",
      "reasoning": "Brief explanation for this severity assessment"
    }
  ],
  "overall_assessment": "Brief summary of the overall severity profile of this differential diagnosis"
}
` + "```" + `
Provide only the JSON response without additional text.`

// SeverityLevelsFromRows renders severity-level rows (name, description) as
// the criteria section, the shape the classification table export has.
func SeverityLevelsFromRows(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", row[0], row[1]))
	}
	return strings.Join(lines, "\n")
}

// NewSeverityJudgeBuilder returns a builder for the severity judge prompt
// with default classification criteria loaded. Callers override the
// severity_levels section (from a table or store) before Build when the
// criteria come from elsewhere. The payload hole is
// {differential_diagnosis}.
func NewSeverityJudgeBuilder() *Builder {
	return NewBuilder().
		SetMetaTemplate(severityMetaTemplate).
		LoadSectionFromText("intro", severityIntro).
		LoadSectionFromText("severity_levels", severityDefaultLevels).
		LoadSectionFromText("json_format", severityJSONFormat)
}

const semanticMetaTemplate = "{intro}\n\n{differential_diagnosis}\n\n{semantic_levels}\n\n{json_format}"

const semanticIntro = `You are a medical expert evaluating diagnostic reasoning of clinicians.
Each clinician was given a clinical case for which they provided a differential diagnosis consisting of several predicted diseases.
Each case has a golden diagnosis that represents the correct diagnosis.
Please analyze the following differential diagnosis and evaluate the semantic relationship between the differential diagnosis and the golden diagnosis.`

const semanticLevels = `For each disease appearing in the differential, determine how it relates to the golden diagnosis as a medical or diagnostic entity. Use the defined categories below.
Each category is defined by:
A code (1-6)
A label (must match exactly)

Categories:
- Exact synonym : Same diagnosis, different name
- Broad synonym : More general version of the same condition
- Exact group of diseases : Same clinical group
- Broad group of diseases : Same system/category
- Related disease group : Not same group, but with overlap
- Not related disease : No connection`

const semanticJSONFormat = `Your output must be a valid JSON object with the following structure. Replace the placeholders with real data.

You must include:
- The golden diagnosis under the field "golden_diagnosis"
- A list of differential diagnoses under the field "differential_diagnoses"
- For each differential:
    - A "diagnosis" string that must match exactly one of the diseases provided in the list of differential diagnoses
    - A "category" object containing:
        - A "code" field (integer from 1 to 6)
        - A "label" field (must match exactly one of the predefined category names)
- You should classify all differential diagnoses.

Do not generate new diagnoses or modify the names. Use each differential diagnosis exactly as it appears in the list.

Return only the JSON object. Do not include any explanations or formatting around it.`

// NewSemanticJudgeBuilder returns a builder for the semantic-relationship
// judge prompt. The payload hole is {differential_diagnosis}, whose text is
// expected to carry both the golden diagnosis and the differential list.
func NewSemanticJudgeBuilder() *Builder {
	return NewBuilder().
		SetMetaTemplate(semanticMetaTemplate).
		LoadSectionFromText("intro", semanticIntro).
		LoadSectionFromText("semantic_levels", semanticLevels).
		LoadSectionFromText("json_format", semanticJSONFormat)
}
