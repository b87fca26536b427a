package xrf

import "strings"

// KLines lists the elements modelled by their K emission lines
var KLines = []string{
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca", "Sc", "Ti", "V", "Cr",
	"Mn", "Fe", "Co", "Ni", "Cu", "Zn", "Ga", "Ge", "As", "Se",
	"Br", "Kr", "Rb", "Sr", "Y", "Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd",
	"In", "Sn", "Sb", "Te", "I",
}

// LLines lists the elements modelled by their L emission lines
var LLines = []string{
	"Mo_L", "Tc_L", "Ru_L", "Rh_L", "Pd_L", "Ag_L", "Cd_L", "In_L", "Sn_L", "Sb_L",
	"Te_L", "I_L", "Xe_L", "Cs_L", "Ba_L", "La_L", "Ce_L", "Pr_L", "Nd_L", "Pm_L",
	"Sm_L", "Eu_L", "Gd_L", "Tb_L", "Dy_L", "Ho_L", "Er_L", "Tm_L", "Yb_L", "Lu_L",
	"Hf_L", "Ta_L", "W_L", "Re_L", "Os_L", "Ir_L", "Pt_L", "Au_L", "Hg_L", "Tl_L",
	"Pb_L", "Bi_L", "Po_L", "At_L", "Rn_L", "Fr_L", "Ac_L", "Th_L", "Pa_L", "U_L",
	"Np_L", "Pu_L", "Am_L", "Br_L", "Ga_L",
}

// MLines lists the elements modelled by their M emission lines
var MLines = []string{"Au_M", "Pb_M", "U_M", "Pt_M", "Ti_M", "Gd_M"}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

// IsKLine reports whether name is in KLines
func IsKLine(name string) bool { return contains(KLines, name) }

// IsLLine reports whether name is in LLines
func IsLLine(name string) bool { return contains(LLines, name) }

// IsMLine reports whether name is in MLines
func IsMLine(name string) bool { return contains(MLines, name) }

// ElementSymbol strips the line family suffix: Pt_L becomes Pt
func ElementSymbol(name string) string {
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i]
	}
	return name
}
