package skills

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Term is a known technical skill. Aliases are alternative spellings found in
// job descriptions. All spellings match regardless of case. Ambiguous lists
// spellings that are also everyday words ("go", "rest"): those only count when
// written with a capital letter or listed next to another skill.
type Term struct {
	Name      string   `yaml:"name"`
	Aliases   []string `yaml:"aliases,omitempty"`
	Ambiguous []string `yaml:"ambiguous,omitempty"`
}

// Skill is a skill found in a text, with the casing it had there.
type Skill struct {
	Canonical string
	Display   string
}

// Vocabulary is a fixed dictionary of technical terms used to extract
// required skills from free text.
type Vocabulary struct {
	terms    []Term
	patterns []termPattern
	// spellings maps every normalized spelling to its term's canonical token.
	spellings map[string]string
	// ambiguous holds the lowercased ambiguous spellings.
	ambiguous map[string]bool
}

type termPattern struct {
	canonical string
	ambiguous bool
	re        *regexp.Regexp
}

var defaultTerms = []Term{
	{Name: "Go", Aliases: []string{"Golang"}, Ambiguous: []string{"Go"}},
	{Name: "Python"},
	{Name: "Java"},
	{Name: "JavaScript", Aliases: []string{"JS", "ECMAScript"}},
	{Name: "TypeScript"},
	{Name: "React", Aliases: []string{"React.js", "ReactJS"}},
	{Name: "Angular"},
	{Name: "Vue", Aliases: []string{"Vue.js", "VueJS"}},
	{Name: "Svelte"},
	{Name: "Node.js", Aliases: []string{"NodeJS"}, Ambiguous: []string{"Node"}},
	{Name: "Next.js", Aliases: []string{"NextJS"}},
	{Name: "Express", Aliases: []string{"Express.js"}},
	{Name: "Django"},
	{Name: "Flask"},
	{Name: "FastAPI"},
	{Name: "Spring", Aliases: []string{"Spring Boot"}},
	{Name: "Ruby"},
	{Name: "Rails", Aliases: []string{"Ruby on Rails"}},
	{Name: "PHP"},
	{Name: "Laravel"},
	{Name: "C++"},
	{Name: "C#"},
	{Name: ".NET"},
	{Name: "Rust"},
	{Name: "Kotlin"},
	{Name: "Swift"},
	{Name: "Scala"},
	{Name: "Elixir"},
	{Name: "SQL"},
	{Name: "PostgreSQL", Aliases: []string{"Postgres"}},
	{Name: "MySQL"},
	{Name: "MongoDB", Aliases: []string{"Mongo"}},
	{Name: "Redis"},
	{Name: "DynamoDB"},
	{Name: "Cassandra"},
	{Name: "Elasticsearch"},
	{Name: "Kafka"},
	{Name: "RabbitMQ"},
	{Name: "GraphQL"},
	{Name: "REST", Aliases: []string{"RESTful"}, Ambiguous: []string{"REST"}},
	{Name: "gRPC"},
	{Name: "Docker"},
	{Name: "Kubernetes", Aliases: []string{"K8s"}},
	{Name: "Helm"},
	{Name: "Terraform"},
	{Name: "Ansible"},
	{Name: "AWS", Aliases: []string{"Amazon Web Services"}},
	{Name: "GCP", Aliases: []string{"Google Cloud", "Google Cloud Platform"}},
	{Name: "Azure"},
	{Name: "Linux"},
	{Name: "Git"},
	{Name: "CI/CD"},
	{Name: "Jenkins"},
	{Name: "GitHub Actions"},
	{Name: "HTML", Aliases: []string{"HTML5"}},
	{Name: "CSS", Aliases: []string{"CSS3"}},
	{Name: "Tailwind", Aliases: []string{"TailwindCSS"}},
	{Name: "Sass", Aliases: []string{"SCSS"}},
	{Name: "Figma"},
	{Name: "Machine Learning", Aliases: []string{"ML"}},
	{Name: "TensorFlow"},
	{Name: "PyTorch"},
	{Name: "Pandas"},
	{Name: "Spark", Aliases: []string{"Apache Spark"}},
	{Name: "Airflow"},
	{Name: "Snowflake"},
	{Name: "Tableau"},
	{Name: "Microservices"},
	{Name: "Agile"},
	{Name: "Scrum"},
}

// DefaultVocabulary returns the built-in dictionary.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(defaultTerms)
}

// NewVocabulary compiles the given terms. Terms normalizing to the same token
// are merged, the first one wins.
func NewVocabulary(terms []Term) *Vocabulary {
	v := &Vocabulary{
		spellings: make(map[string]string),
		ambiguous: make(map[string]bool),
	}
	seen := make(map[string]bool)

	for _, term := range terms {
		name := strings.TrimSpace(term.Name)
		canonical := Normalize(name)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true

		term.Name = name
		v.terms = append(v.terms, term)

		ambiguous := make(map[string]bool, len(term.Ambiguous))
		for _, a := range term.Ambiguous {
			ambiguous[strings.ToLower(strings.TrimSpace(a))] = true
		}

		compiled := make(map[string]bool)
		spellings := append(append([]string{name}, term.Aliases...), term.Ambiguous...)
		for _, spelling := range spellings {
			spelling = strings.TrimSpace(spelling)
			lower := strings.ToLower(spelling)
			if spelling == "" || compiled[lower] {
				continue
			}
			compiled[lower] = true

			if n := Normalize(spelling); n != "" {
				if _, taken := v.spellings[n]; !taken {
					v.spellings[n] = canonical
				}
			}
			if ambiguous[lower] {
				v.ambiguous[lower] = true
			}
			v.patterns = append(v.patterns, termPattern{
				canonical: canonical,
				ambiguous: ambiguous[lower],
				re:        compileTerm(spelling),
			})
		}
	}

	return v
}

// LoadVocabularyFile extends the default dictionary with terms from a YAML
// file holding a list of terms.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary file %q: %w", path, err)
	}

	var extra []Term
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parsing vocabulary file %q: %w", path, err)
	}

	terms := make([]Term, 0, len(defaultTerms)+len(extra))
	terms = append(terms, defaultTerms...)
	terms = append(terms, extra...)

	return NewVocabulary(terms), nil
}

// Len returns the number of distinct terms.
func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// Canonical normalizes a skill and folds known spellings of a vocabulary
// term ("Amazon Web Services", "AWS") into that term's token.
func (v *Vocabulary) Canonical(raw string) string {
	n := Normalize(raw)
	if canonical, ok := v.spellings[n]; ok {
		return canonical
	}
	return n
}

// CanonicalSet applies Canonical to every skill, dropping empty tokens.
func (v *Vocabulary) CanonicalSet(raw []string) map[string]struct{} {
	set := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if c := v.Canonical(r); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// Extract returns the vocabulary skills mentioned in text, ordered by first
// appearance and deduplicated by canonical token. Display keeps the casing
// used in the text.
func (v *Vocabulary) Extract(text string) []Skill {
	type hit struct {
		pos   int
		skill Skill
	}

	first := make(map[string]hit)
	for _, p := range v.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			// group 1 is the term itself, without the boundary characters.
			start, end := loc[2], loc[3]
			if p.ambiguous && !v.standsOut(text, start, end) {
				continue
			}
			if prev, ok := first[p.canonical]; !ok || start < prev.pos {
				first[p.canonical] = hit{
					pos:   start,
					skill: Skill{Canonical: p.canonical, Display: text[start:end]},
				}
			}
			break
		}
	}

	hits := make([]hit, 0, len(first))
	for _, h := range first {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].skill.Canonical < hits[j].skill.Canonical
	})

	found := make([]Skill, 0, len(hits))
	for _, h := range hits {
		found = append(found, h.skill)
	}
	return found
}

// standsOut reports whether an ambiguous spelling at text[start:end] is meant
// as a skill: it carries a capital letter or a neighbouring word is another
// known skill ("java, go, rust").
func (v *Vocabulary) standsOut(text string, start, end int) bool {
	word := text[start:end]
	if strings.ToLower(word) != word {
		return true
	}

	before := strings.FieldsFunc(text[:start], isListSeparator)
	for i := len(before) - 1; i >= 0; i-- {
		if isConnector(before[i]) {
			continue
		}
		if v.isSkillWord(before[i]) {
			return true
		}
		break
	}

	for _, w := range strings.FieldsFunc(text[end:], isListSeparator) {
		if isConnector(w) {
			continue
		}
		return v.isSkillWord(w)
	}
	return false
}

// isSkillWord reports whether w is an unambiguous spelling of a known skill.
func (v *Vocabulary) isSkillWord(w string) bool {
	if v.ambiguous[strings.ToLower(strings.Trim(w, wordPunct))] {
		return false
	}
	_, ok := v.spellings[Normalize(w)]
	return ok
}

const wordPunct = ".,;:!?\"'"

func isListSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(",;/|&()", r)
}

func isConnector(w string) bool {
	switch strings.ToLower(w) {
	case "and", "or":
		return true
	}
	return false
}

func compileTerm(spelling string) *regexp.Regexp {
	parts := strings.Fields(spelling)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	body := strings.Join(parts, `\s+`)

	return regexp.MustCompile(`(?i)(?:^|[^\w+#.])(` + body + `)(?:$|[^\w+#])`)
}
