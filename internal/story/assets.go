package story

// Media catalog asset ids. The ids are stable references into the CMS;
// the catalog resolves them to playable URLs.
const (
	assetKarenPuzzle1        = 1002
	assetConferenceHoldMusic = 1003

	assetConferenceNudge       = 1050
	assetClavaeConferenceIntro = 1074
	assetKarenConferenceInfo   = 1089

	assetClavaeFinalPuzzle2 = 1090
	assetKarenFinalPuzzle2  = 1091
	assetKarenFinalPuzzle1  = 1092
	assetClavaeFinalPuzzle1 = 1093
	assetClavaePuzzle1      = 1094
	assetTelemarketopiaLogo = 1095

	assetPuppetMaster = 1099

	// The nine first-conference endings, one per (clavae, karen) choice
	// pair, plus the final-puzzle outcomes.
	assetEndA = 1052
	assetEndB = 1053
	assetEndC = 1054
	assetEndD = 1055
	assetEndE = 1056
	assetEndF = 1057
	assetEndG = 1058
	assetEndH = 1059
	assetEndJ = 1060
	assetEndI = 1097
)
