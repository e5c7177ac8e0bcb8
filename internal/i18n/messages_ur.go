package i18n

var messagesUR = map[string]string{
	"answer.fallback": `معذرت، مجھے آپ کے سوال سے متعلق کتاب میں کوئی معلومات نہیں ملی۔
براہ کرم اپنا سوال مختلف الفاظ میں پوچھنے کی کوشش کریں یا Physical AI اور روبوٹکس سے متعلق کوئی اور سوال پوچھیں۔`,

	"error.retrieval":   "ہم اس وقت آپ کے سوال پر کارروائی نہیں کر سکے۔ براہ کرم کچھ دیر بعد دوبارہ کوشش کریں۔",
	"error.generation":  "جواب منقطع ہو گیا۔ براہ کرم دوبارہ پوچھیں۔",
	"error.guest_limit": "آپ مفت سوالات کی حد تک پہنچ گئے ہیں۔ جاری رکھنے کے لیے سائن ان کریں۔",
}

var messages = map[string]map[string]string{
	LangEN: messagesEN,
	LangUR: messagesUR,
}
