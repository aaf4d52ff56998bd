package fallback

import "strings"

// phrasebook holds the user-facing text of every synthesized output in one
// language.
type phrasebook struct {
	label           string // prefix marking text as non-authoritative
	noText          string
	findings        string
	normalLabels    []string
	recommendations []string
	apology         string
	transcript      string
	generic         string
}

var phrasebooks = map[string]phrasebook{
	"en": {
		label:        "[Automated placeholder]",
		noText:       "Text could not be extracted from the document.",
		findings:     "Automated interpretation is unavailable. A clinician will review this image.",
		normalLabels: []string{"normal finding", "no acute abnormality"},
		recommendations: []string{
			"Discuss these results with your care team.",
			"Seek urgent care if your symptoms get worse.",
		},
		apology:    "Sorry, the assistant is unavailable right now. Please contact our staff by phone or through the portal for help.",
		transcript: "This is a demo transcript. Live transcription is currently unavailable.",
		generic:    "This result is temporarily unavailable.",
	},
	"es": {
		label:        "[Marcador automático]",
		noText:       "No se pudo extraer el texto del documento.",
		findings:     "La interpretación automática no está disponible. Un profesional clínico revisará esta imagen.",
		normalLabels: []string{"hallazgo normal", "sin anomalía aguda"},
		recommendations: []string{
			"Comente estos resultados con su equipo de atención.",
			"Busque atención urgente si sus síntomas empeoran.",
		},
		apology:    "Lo sentimos, el asistente no está disponible en este momento. Comuníquese con nuestro personal por teléfono o a través del portal.",
		transcript: "Esta es una transcripción de demostración. La transcripción en vivo no está disponible.",
		generic:    "Este resultado no está disponible temporalmente.",
	},
	"fr": {
		label:        "[Contenu automatique]",
		noText:       "Le texte du document n'a pas pu être extrait.",
		findings:     "L'interprétation automatique est indisponible. Un clinicien examinera cette image.",
		normalLabels: []string{"résultat normal", "aucune anomalie aiguë"},
		recommendations: []string{
			"Discutez de ces résultats avec votre équipe soignante.",
			"Consultez en urgence si vos symptômes s'aggravent.",
		},
		apology:    "Désolé, l'assistant est indisponible pour le moment. Veuillez contacter notre personnel par téléphone ou via le portail.",
		transcript: "Ceci est une transcription de démonstration. La transcription en direct est indisponible.",
		generic:    "Ce résultat est temporairement indisponible.",
	},
}

const defaultLanguage = "en"

// lookup returns the phrasebook for a BCP 47 tag, matching on the primary
// subtag and falling back to English.
func lookup(tag string) (string, phrasebook) {
	lang := strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if pb, ok := phrasebooks[lang]; ok {
		return lang, pb
	}
	return defaultLanguage, phrasebooks[defaultLanguage]
}

// clinicalTerms is the dictionary used when entity extraction is down.
// Order is the output order.
var clinicalTerms = []struct {
	term, category string
}{
	{"chest pain", "MEDICAL_CONDITION"},
	{"shortness of breath", "MEDICAL_CONDITION"},
	{"fever", "MEDICAL_CONDITION"},
	{"cough", "MEDICAL_CONDITION"},
	{"headache", "MEDICAL_CONDITION"},
	{"nausea", "MEDICAL_CONDITION"},
	{"dizziness", "MEDICAL_CONDITION"},
	{"hypertension", "MEDICAL_CONDITION"},
	{"diabetes", "MEDICAL_CONDITION"},
	{"asthma", "MEDICAL_CONDITION"},
	{"pneumonia", "MEDICAL_CONDITION"},
	{"fracture", "MEDICAL_CONDITION"},
	{"aspirin", "MEDICATION"},
	{"ibuprofen", "MEDICATION"},
	{"acetaminophen", "MEDICATION"},
	{"insulin", "MEDICATION"},
	{"metformin", "MEDICATION"},
	{"lisinopril", "MEDICATION"},
	{"amoxicillin", "MEDICATION"},
	{"x-ray", "TEST_TREATMENT_PROCEDURE"},
	{"mri", "TEST_TREATMENT_PROCEDURE"},
	{"blood pressure", "TEST_TREATMENT_PROCEDURE"},
}
