package domain

// TraitValueStat is the global frequency record of one (trait type, value).
type TraitValueStat struct {
	TraitType        string  `json:"trait_type"`
	Value            string  `json:"value"`
	Count            int     `json:"count"`
	Frequency        float64 `json:"frequency"`
	Rarity           float64 `json:"rarity"`
	RarityNormalized float64 `json:"rarity_normalized"`
}

// TraitTypeStat groups the value stats of one trait type.
type TraitTypeStat struct {
	TraitType string                     `json:"trait_type"`
	Values    map[string]*TraitValueStat `json:"values"`
}

// TraitCountStat is the global frequency record of items sharing a trait count.
type TraitCountStat struct {
	TraitCount       int     `json:"trait_count"`
	Count            int     `json:"count"`
	Frequency        float64 `json:"frequency"`
	Rarity           float64 `json:"rarity"`
	RarityNormalized float64 `json:"rarity_normalized"`
}
